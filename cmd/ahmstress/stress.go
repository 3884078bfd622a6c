package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llxisdsh/ahm"
)

// Report is the outcome of one stress run.
type Report struct {
	Mode             string  `json:"mode" yaml:"mode"`
	Threads          int     `json:"threads" yaml:"threads"`
	Keys             int     `json:"keys" yaml:"keys"`
	Inserted         int64   `json:"inserted" yaml:"inserted"`
	Duplicates       int64   `json:"duplicates" yaml:"duplicates"`
	Erased           int64   `json:"erased" yaml:"erased"`
	Missing          int64   `json:"missing" yaml:"missing"`
	Leaked           int64   `json:"leaked" yaml:"leaked"`
	Size             int     `json:"size" yaml:"size"`
	Capacity         int     `json:"capacity" yaml:"capacity"`
	SubMaps          int     `json:"submaps" yaml:"submaps"`
	SubMapCapacities []int   `json:"submap_capacities" yaml:"submap_capacities"`
	InsertSeconds    float64 `json:"insert_seconds" yaml:"insert_seconds"`
	FindSeconds      float64 `json:"find_seconds" yaml:"find_seconds"`
	EraseSeconds     float64 `json:"erase_seconds" yaml:"erase_seconds"`
	InsertsPerSecond float64 `json:"inserts_per_second" yaml:"inserts_per_second"`
	FindsPerSecond   float64 `json:"finds_per_second" yaml:"finds_per_second"`
	OK               bool    `json:"ok" yaml:"ok"`
}

type stressMap = ahm.GrowableMapOf[uint64, uint64]

func valueOf(k uint64) uint64 {
	return k*2 + 1
}

func newStressMap(cfg Config, logger *slog.Logger) (*stressMap, error) {
	opts := []func(*ahm.Config[uint64, uint64]){
		ahm.WithMaxLoadFactor[uint64, uint64](cfg.LoadFactor),
		ahm.WithGrowthFactor[uint64, uint64](cfg.GrowthFactor),
		ahm.WithThreadCacheSize[uint64, uint64](cfg.CacheSize),
		ahm.WithLogger[uint64, uint64](logger),
	}

	var alloc ahm.Allocator
	switch cfg.Allocator {
	case "mmap", "mmap-shared":
		a, err := mmapAllocator(cfg.Allocator == "mmap-shared")
		if err != nil {
			return nil, err
		}
		alloc = a
	}
	if cfg.MemoryLimit > 0 {
		alloc = &ahm.LimitAllocator{Base: alloc, Limit: cfg.MemoryLimit}
	}
	if alloc != nil {
		opts = append(opts, ahm.WithAllocator[uint64, uint64](alloc))
	}

	sizeHint := cfg.SizeHint
	if sizeHint == 0 {
		sizeHint = cfg.Keys
	}
	return ahm.NewGrowableMapOf[uint64, uint64](sizeHint, opts...)
}

// keysFor calls f for the keys goroutine t works on. In disjoint mode the
// key space is partitioned; in collide mode every goroutine visits every
// key, starting at a different offset.
func keysFor(cfg Config, threads, t int, f func(k uint64) bool) {
	if cfg.Mode == modeCollide {
		start := t * cfg.Keys / threads
		for i := 0; i < cfg.Keys; i++ {
			if !f(uint64((start + i) % cfg.Keys)) {
				return
			}
		}
		return
	}
	for k := t; k < cfg.Keys; k += threads {
		if !f(uint64(k)) {
			return
		}
	}
}

// parallel runs fn on threads goroutines and returns the elapsed time and
// the joined errors.
func parallel(threads int, fn func(t int) error) (time.Duration, error) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := time.Now()
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			if err := fn(t); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()
	return time.Since(start), errors.Join(errs...)
}

func runStress(ctx context.Context, cfg Config, logger *slog.Logger) (*Report, error) {
	threads := cfg.Threads
	if threads == 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	m, err := newStressMap(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating map: %w", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("closing map", "err", err)
		}
	}()

	rep := &Report{Mode: cfg.Mode, Threads: threads, Keys: cfg.Keys}
	logger.Info("stress run starting", "mode", cfg.Mode, "threads", threads, "keys", cfg.Keys,
		"capacity", m.Capacity())

	var inserted, duplicates atomic.Int64
	elapsed, err := parallel(threads, func(t int) error {
		var werr error
		n := 0
		keysFor(cfg, threads, t, func(k uint64) bool {
			if n++; n%1024 == 0 && ctx.Err() != nil {
				werr = ctx.Err()
				return false
			}
			_, ok, err := m.Insert(k, valueOf(k))
			if err != nil {
				werr = fmt.Errorf("insert %d: %w", k, err)
				return false
			}
			if ok {
				inserted.Add(1)
			} else {
				duplicates.Add(1)
			}
			return true
		})
		return werr
	})
	if err != nil {
		return nil, err
	}
	rep.Inserted = inserted.Load()
	rep.Duplicates = duplicates.Load()
	rep.InsertSeconds = elapsed.Seconds()
	logger.Info("insert phase done", "elapsed", elapsed, "inserted", rep.Inserted,
		"submaps", m.NumSubMaps())

	var missing, finds atomic.Int64
	elapsed, err = parallel(threads, func(t int) error {
		keysFor(cfg, threads, t, func(k uint64) bool {
			finds.Add(1)
			if v, ok := m.Load(k); !ok || v != valueOf(k) {
				missing.Add(1)
			}
			return true
		})
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	rep.Missing = missing.Load()
	rep.FindSeconds = elapsed.Seconds()

	var wantErased int64
	if cfg.EraseEvery > 0 {
		var erased, leaked atomic.Int64
		elapsed, err = parallel(threads, func(t int) error {
			keysFor(cfg, threads, t, func(k uint64) bool {
				if k%uint64(cfg.EraseEvery) == 0 && m.Erase(k) {
					erased.Add(1)
				}
				return true
			})
			return ctx.Err()
		})
		if err != nil {
			return nil, err
		}
		for k := 0; k < cfg.Keys; k += cfg.EraseEvery {
			wantErased++
			if m.Contains(uint64(k)) {
				leaked.Add(1)
			}
		}
		rep.Erased = erased.Load()
		rep.Leaked = leaked.Load()
		rep.EraseSeconds = elapsed.Seconds()
	}

	stats := m.Stats()
	rep.Size = m.Size()
	rep.Capacity = stats.Capacity
	rep.SubMaps = stats.SubMaps
	rep.SubMapCapacities = stats.SubMapCapacities
	if rep.InsertSeconds > 0 {
		rep.InsertsPerSecond = float64(rep.Inserted+rep.Duplicates) / rep.InsertSeconds
	}
	if rep.FindSeconds > 0 {
		rep.FindsPerSecond = float64(finds.Load()) / rep.FindSeconds
	}
	rep.OK = rep.Inserted == int64(cfg.Keys) &&
		rep.Missing == 0 &&
		rep.Leaked == 0 &&
		rep.Erased == wantErased &&
		int64(rep.Size) == int64(cfg.Keys)-wantErased
	logger.Debug("map stats", "stats", stats.ToString())
	return rep, nil
}
