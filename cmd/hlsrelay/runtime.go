package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hls-relay/internal/platform/config"
	"hls-relay/internal/platform/logger"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/relay"
)

const shutdownTimeout = 5 * time.Second

// relayRuntime bundles what both variants need: logging, metrics, the
// ledger and the uploader.
type relayRuntime struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	ledger   *relay.Ledger
	uploader *relay.Uploader
}

// newRuntime prepares the working directory and opens the ledger. Failing
// either aborts startup.
func newRuntime(cfg config.Config, mode string) (*relayRuntime, error) {
	log := logger.New(cfg.LogLevel, cfg.LogFormat).With(
		slog.String("run_id", uuid.NewString()),
		slog.String("mode", mode),
	)

	if err := relay.PrepareDirs(cfg.OutDir); err != nil {
		return nil, err
	}

	met := metrics.New()
	ledgerPath := filepath.Join(cfg.OutDir, relay.LedgerFileName)
	store, err := relay.OpenFileStore(ledgerPath)
	if errors.Is(err, relay.ErrLedgerLocked) {
		return nil, fmt.Errorf("%s is in use by another hlsrelay process", ledgerPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open upload log: %w", err)
	}

	clock := relay.SystemClock()
	ledger := relay.NewLedger(store, clock, met)
	state, err := ledger.Load()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("read upload log: %w", err)
	}
	log.Info("upload log loaded",
		slog.String("path", ledgerPath),
		slog.Int("uploaded", len(state.Uploaded())),
		slog.Int("downloaded", len(state.Downloaded())))

	primary, fallback := buildTransports(cfg, log)
	uploader := relay.NewUploader(relay.UploaderConfig{
		Endpoint: cfg.UploadEndpoint,
		UserHash: cfg.UserHash,
		MaxRetry: cfg.MaxRetry,
		Backoff:  cfg.RetryBackoff,
	}, primary, fallback, clock, log, met)

	return &relayRuntime{cfg: cfg, log: log, metrics: met, ledger: ledger, uploader: uploader}, nil
}

// buildTransports returns the primary and fallback upload transports. The
// primary is skipped when forced off or when it cannot be configured.
func buildTransports(cfg config.Config, log *slog.Logger) (relay.Transport, relay.Transport) {
	fallback := relay.NewRawTransport(cfg.UploadTimeout, cfg.UserAgent)
	if cfg.ForceFallback {
		log.Info("primary upload transport disabled")
		return nil, fallback
	}
	primary, err := relay.NewHTTPTransport(cfg.UploadTimeout, cfg.UserAgent)
	if err != nil {
		log.Warn("primary upload transport unavailable", slog.Any("error", err))
		return nil, fallback
	}
	return primary, fallback
}

func (rt *relayRuntime) Close() {
	if err := rt.ledger.Close(); err != nil {
		rt.log.Warn("close upload log failed", slog.Any("error", err))
	}
}

// serveStatus starts the optional status server. The returned function
// shuts it down.
func (rt *relayRuntime) serveStatus(mode string) func() {
	if rt.cfg.StatusAddr == "" {
		return func() {}
	}

	h := relay.NewHandler(rt.ledger, mode, rt.log, rt.metrics)
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(rt.log))
	r.Use(metrics.RequestMiddleware(rt.metrics))
	h.Routes(r)

	srv := &http.Server{Addr: rt.cfg.StatusAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.log.Error("status server error", slog.Any("error", err))
		}
	}()
	rt.log.Info("status server starting", slog.String("addr", rt.cfg.StatusAddr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			rt.log.Error("status server shutdown error", slog.Any("error", err))
		}
	}
}

// exitErr hides the cancellation error of a signal-driven stop.
func exitErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

