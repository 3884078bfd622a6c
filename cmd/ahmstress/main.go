// Command ahmstress hammers a GrowableMapOf from many goroutines and reports
// whether every key survived, along with throughput and growth figures.
//
// Usage:
//
//	ahmstress [--config file.jsonc] [--threads N] [--keys N] [--mode disjoint|collide] ...
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"
)

var errRunFailed = errors.New("stress run found inconsistencies")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	cfg, err := parseArgs(args, errOut)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	level, _ := parseLevel(cfg.LogLevel)
	logger := newLogger(errOut, level)

	rep, err := runStress(ctx, cfg, logger)
	if err != nil {
		logger.Error("stress run failed", "err", err)
		return 1
	}

	if cfg.Out != "" {
		err = saveReport(cfg.Out, cfg.Format, rep)
	} else {
		err = encodeReport(out, cfg.Format, rep)
	}
	if err != nil {
		logger.Error("writing report", "err", err)
		return 1
	}
	if err := verifyReport(rep); err != nil {
		logger.Error("verification failed", "err", err)
		return 1
	}
	return 0
}

// verifyReport returns errRunFailed, with the offending counts, when the run
// lost or leaked keys.
func verifyReport(rep *Report) error {
	if rep.OK {
		return nil
	}
	return fmt.Errorf("%w: inserted=%d missing=%d leaked=%d erased=%d size=%d",
		errRunFailed, rep.Inserted, rep.Missing, rep.Leaked, rep.Erased, rep.Size)
}

// parseArgs builds the run configuration: defaults, then the optional
// config file, then explicitly set flags.
func parseArgs(args []string, errOut io.Writer) (Config, error) {
	def := defaultConfig()
	fs := flag.NewFlagSet("ahmstress", flag.ContinueOnError)
	fs.SetOutput(errOut)

	configPath := fs.StringP("config", "c", "", "JSONC config file")
	threads := fs.IntP("threads", "t", def.Threads, "worker goroutines (0 = GOMAXPROCS)")
	keys := fs.IntP("keys", "n", def.Keys, "number of distinct keys")
	sizeHint := fs.Int("size-hint", def.SizeHint, "expected entries used to size the primary submap (0 = keys)")
	loadFactor := fs.Float64("load-factor", def.LoadFactor, "maximum load factor of each submap")
	growth := fs.Float64("growth-factor", def.GrowthFactor, "secondary submap growth factor (negative = 1-load factor)")
	cacheSize := fs.Int("cache-size", def.CacheSize, "entry counter flush threshold")
	mode := fs.StringP("mode", "m", def.Mode, "key distribution: disjoint or collide")
	eraseEvery := fs.Int("erase-every", def.EraseEvery, "erase every Nth key after inserting (0 = none)")
	allocator := fs.String("allocator", def.Allocator, "cell storage: heap, mmap or mmap-shared")
	memLimit := fs.Int64("memory-limit", def.MemoryLimit, "byte budget for cell storage (0 = unlimited)")
	format := fs.StringP("format", "f", def.Format, "report format: text, json or yaml")
	outPath := fs.StringP("out", "o", def.Out, "write the report to this file instead of stdout")
	logLevel := fs.String("log-level", def.LogLevel, "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unknown arguments: %v", fs.Args())
	}

	cfg := def
	if *configPath != "" {
		var err error
		if cfg, err = loadConfigFile(*configPath, def); err != nil {
			return Config{}, err
		}
	}

	overrides := map[string]func(){
		"threads":       func() { cfg.Threads = *threads },
		"keys":          func() { cfg.Keys = *keys },
		"size-hint":     func() { cfg.SizeHint = *sizeHint },
		"load-factor":   func() { cfg.LoadFactor = *loadFactor },
		"growth-factor": func() { cfg.GrowthFactor = *growth },
		"cache-size":    func() { cfg.CacheSize = *cacheSize },
		"mode":          func() { cfg.Mode = *mode },
		"erase-every":   func() { cfg.EraseEvery = *eraseEvery },
		"allocator":     func() { cfg.Allocator = *allocator },
		"memory-limit":  func() { cfg.MemoryLimit = *memLimit },
		"format":        func() { cfg.Format = *format },
		"out":           func() { cfg.Out = *outPath },
		"log-level":     func() { cfg.LogLevel = *logLevel },
	}
	fs.Visit(func(f *flag.Flag) {
		if set, ok := overrides[f.Name]; ok {
			set()
		}
	})

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// newLogger returns a tint handler on w, colored only when w is a terminal.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    noColor,
	}))
}
