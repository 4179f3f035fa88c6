package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"hls-relay/internal/platform/metrics"
)

const (
	// FailedDirName is the holding area for files whose upload failed.
	FailedDirName = "failed"

	DefaultStreamInterval  = time.Second
	DefaultFinalSweepDelay = 500 * time.Millisecond
	DefaultMaxParallel     = 2
)

// StreamRunnerConfig tunes the remux variant's poll loop.
type StreamRunnerConfig struct {
	Dir         string
	Interval    time.Duration
	Grace       time.Duration
	MaxParallel int
}

// StreamRunner drives the remux variant: a Process writes numbered files
// into Dir, the runner polls the directory, waits for each file to settle
// and uploads it on a bounded pool. Uploaded files are removed; failed
// ones move to Dir/failed so they are not picked up again this run.
type StreamRunner struct {
	dir       string
	failedDir string
	interval  time.Duration
	grace     time.Duration

	ledger    *Ledger
	uploader  *Uploader
	stability *StabilityDetector
	remux     Process
	pool      *Pool
	clock     Clock
	log       *slog.Logger
	metrics   *metrics.Metrics

	// stale holds names already warned about by warnStale. Only the
	// sweeping goroutine touches it.
	stale map[string]struct{}
}

// NewStreamRunner wires a StreamRunner. The failed directory must already
// exist; see PrepareDirs.
func NewStreamRunner(cfg StreamRunnerConfig, ledger *Ledger, uploader *Uploader, stability *StabilityDetector, remux Process, clock Clock, log *slog.Logger, m *metrics.Metrics) *StreamRunner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultStreamInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if clock == nil {
		clock = SystemClock()
	}
	pool := NewPool(cfg.MaxParallel)
	pool.OnChange = m.SetUploadsInFlight
	return &StreamRunner{
		dir:       cfg.Dir,
		failedDir: filepath.Join(cfg.Dir, FailedDirName),
		interval:  cfg.Interval,
		grace:     cfg.Grace,
		ledger:    ledger,
		uploader:  uploader,
		stability: stability,
		remux:     remux,
		pool:      pool,
		clock:     clock,
		log:       log,
		metrics:   m,
		stale:     make(map[string]struct{}),
	}
}

// PrepareDirs creates the working directory and its failed holding area.
func PrepareDirs(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, FailedDirName), 0o755); err != nil {
		return fmt.Errorf("create working directory %s: %w", dir, err)
	}
	return nil
}

// Candidates lists the remux output files currently in the working
// directory, sorted by name.
func (r *StreamRunner) Candidates() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, RemuxPrefix) && strings.HasSuffix(name, RemuxSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Sweep launches uploads for every new, stable candidate. When blocking is
// false it stops as soon as the pool is full; otherwise it waits for free
// slots so every candidate gets a turn. It returns the number of uploads
// started.
func (r *StreamRunner) Sweep(ctx context.Context, blocking bool) int {
	names, err := r.Candidates()
	if err != nil {
		r.log.Warn("list working directory failed", slog.String("dir", r.dir), slog.Any("error", err))
		return 0
	}

	started := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if r.pool.InFlight(name) {
			continue
		}
		if r.ledger.IsUploaded(name) {
			r.warnStale(name)
			continue
		}
		if !blocking && r.pool.Full() {
			break
		}
		path := filepath.Join(r.dir, name)
		if !r.stability.IsStable(ctx, path) {
			continue
		}

		name := name // per-iteration copy: go 1.21 loop variables are shared
		task := func() { r.handle(ctx, name, path) }
		var ok bool
		if blocking {
			ok = r.pool.Go(ctx, name, task)
		} else {
			ok = r.pool.TryGo(name, task)
		}
		if ok {
			started++
		}
	}
	return started
}

// warnStale reports a file whose name the ledger already marks UPLOADED.
// ffmpeg numbers its output from seg_000000 on every start, so after a
// restart into the same directory new files can reuse uploaded names. They
// are never uploaded and stay in the directory.
func (r *StreamRunner) warnStale(name string) {
	if _, seen := r.stale[name]; seen {
		return
	}
	r.stale[name] = struct{}{}
	r.log.Warn("segment name already uploaded, leaving file in place; use a fresh output directory per run",
		slog.String("segment", name),
		slog.String("dir", r.dir))
}

func (r *StreamRunner) handle(ctx context.Context, name, path string) {
	var size string
	if info, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	res := r.uploader.Upload(ctx, path)

	if res.OK {
		r.log.Info("segment uploaded",
			slog.String("segment", name),
			slog.String("size", size),
			slog.String("url", res.URL))
		if err := r.ledger.Append(name, StatusUploaded, res.URL); err != nil {
			r.log.Error("ledger append failed", slog.String("segment", name), slog.Any("error", err))
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("remove uploaded segment failed", slog.String("segment", name), slog.Any("error", err))
		}
		return
	}

	r.log.Warn("segment upload failed",
		slog.String("segment", name),
		slog.String("kind", res.Kind.String()),
		slog.String("reason", res.Reason))
	if err := r.ledger.Append(name, StatusUploadFail, res.Reason); err != nil {
		r.log.Error("ledger append failed", slog.String("segment", name), slog.Any("error", err))
	}
	if err := os.Rename(path, filepath.Join(r.failedDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("move failed segment aside failed", slog.String("segment", name), slog.Any("error", err))
	}
}

// Run starts the remux process and polls until it exits, then does one
// final sweep after the grace delay and waits for the remaining uploads.
// Cancelling ctx returns at once without waiting for in-flight uploads.
func (r *StreamRunner) Run(ctx context.Context) error {
	if err := r.remux.Start(ctx); err != nil {
		return fmt.Errorf("start remux: %w", err)
	}
	r.log.Info("remux started", slog.String("dir", r.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.remux.Done():
			return r.finish(ctx)
		default:
		}

		r.Sweep(ctx, false)

		if err := r.clock.Sleep(ctx, r.interval); err != nil {
			return err
		}
	}
}

func (r *StreamRunner) finish(ctx context.Context) error {
	if err := r.remux.Err(); err != nil {
		r.log.Warn("remux exited abnormally", slog.Any("error", err))
	} else {
		r.log.Info("remux finished")
	}

	if err := r.clock.Sleep(ctx, r.grace); err != nil {
		return err
	}
	n := r.Sweep(ctx, true)
	r.pool.Wait()
	r.log.Info("final sweep complete", slog.Int("uploads", n))
	return ctx.Err()
}
