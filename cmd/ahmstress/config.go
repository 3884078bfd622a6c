package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

var (
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config")
)

// Config holds the stress run parameters. It is read from a JSONC file and
// then overridden by command line flags.
type Config struct {
	Threads      int     `json:"threads"`
	Keys         int     `json:"keys"`
	SizeHint     int     `json:"size_hint"`
	LoadFactor   float64 `json:"load_factor"`
	GrowthFactor float64 `json:"growth_factor"`
	CacheSize    int     `json:"cache_size"`
	Mode         string  `json:"mode"`
	EraseEvery   int     `json:"erase_every"`
	Allocator    string  `json:"allocator"`
	MemoryLimit  int64   `json:"memory_limit"`
	Format       string  `json:"format"`
	Out          string  `json:"out"`
	LogLevel     string  `json:"log_level"`
}

const (
	modeDisjoint = "disjoint"
	modeCollide  = "collide"
)

func defaultConfig() Config {
	return Config{
		Threads:      0,
		Keys:         100000,
		SizeHint:     0,
		LoadFactor:   0.8,
		GrowthFactor: -1,
		CacheSize:    1000,
		Mode:         modeDisjoint,
		EraseEvery:   0,
		Allocator:    "heap",
		Format:       "text",
		LogLevel:     "info",
	}
}

// loadConfigFile overlays the JSONC file at path onto base. Fields absent
// from the file keep their base value.
func loadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}
	cfg, err := parseConfig(data, base)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte, base Config) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()
	cfg := base
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Threads < 0 {
		return fmt.Errorf("%w: threads must not be negative", errConfigInvalid)
	}
	if cfg.Keys <= 0 {
		return fmt.Errorf("%w: keys must be positive", errConfigInvalid)
	}
	if cfg.SizeHint < 0 {
		return fmt.Errorf("%w: size_hint must not be negative", errConfigInvalid)
	}
	if cfg.EraseEvery < 0 {
		return fmt.Errorf("%w: erase_every must not be negative", errConfigInvalid)
	}
	switch cfg.Mode {
	case modeDisjoint, modeCollide:
	default:
		return fmt.Errorf("%w: unknown mode %q", errConfigInvalid, cfg.Mode)
	}
	switch cfg.Allocator {
	case "heap", "mmap", "mmap-shared":
	default:
		return fmt.Errorf("%w: unknown allocator %q", errConfigInvalid, cfg.Allocator)
	}
	switch cfg.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("%w: unknown format %q", errConfigInvalid, cfg.Format)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
