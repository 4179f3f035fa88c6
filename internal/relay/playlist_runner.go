package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"hls-relay/internal/platform/metrics"
)

// DefaultPollInterval is the wait between playlist cycles.
const DefaultPollInterval = 5 * time.Second

// PlaylistRunnerConfig tunes the playlist variant.
type PlaylistRunnerConfig struct {
	PlaylistURL       string
	Dir               string
	Interval          time.Duration
	DeleteAfterUpload bool
}

// CycleReport counts what one poll cycle did.
type CycleReport struct {
	Discovered     int
	Skipped        int
	Downloaded     int
	DownloadFailed int
	Uploaded       int
	UploadFailed   int
}

// PlaylistRunner polls a media playlist, downloads segments it has not
// stored yet and uploads every stored segment that has no UPLOADED record.
// Segments are handled one at a time in playlist order.
type PlaylistRunner struct {
	cfg        PlaylistRunnerConfig
	discoverer *Discoverer
	ledger     *Ledger
	uploader   *Uploader
	clock      Clock
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewPlaylistRunner wires a PlaylistRunner. cfg.Dir must exist.
func NewPlaylistRunner(cfg PlaylistRunnerConfig, discoverer *Discoverer, ledger *Ledger, uploader *Uploader, clock Clock, log *slog.Logger, m *metrics.Metrics) *PlaylistRunner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &PlaylistRunner{
		cfg:        cfg,
		discoverer: discoverer,
		ledger:     ledger,
		uploader:   uploader,
		clock:      clock,
		log:        log,
		metrics:    m,
	}
}

// Run polls until ctx is cancelled. A failed playlist fetch is logged and
// retried after the usual interval.
func (r *PlaylistRunner) Run(ctx context.Context) error {
	for {
		report, err := r.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			r.log.Warn("playlist cycle failed", slog.Any("error", err))
		case report.Downloaded+report.Uploaded+report.UploadFailed+report.DownloadFailed > 0:
			r.log.Info("playlist cycle",
				slog.Int("discovered", report.Discovered),
				slog.Int("skipped", report.Skipped),
				slog.Int("downloaded", report.Downloaded),
				slog.Int("download_failed", report.DownloadFailed),
				slog.Int("uploaded", report.Uploaded),
				slog.Int("upload_failed", report.UploadFailed))
		}

		if err := r.clock.Sleep(ctx, r.cfg.Interval); err != nil {
			return err
		}
	}
}

// RunCycle fetches the playlist once and processes every reference in
// order. Only a playlist fetch failure is returned; per-segment failures
// are counted in the report.
func (r *PlaylistRunner) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	refs, err := r.discoverer.Discover(ctx, r.cfg.PlaylistURL)
	if err != nil {
		r.metrics.IncPlaylistFetchFailures()
		return report, err
	}
	report.Discovered = len(refs)
	r.metrics.AddSegmentsDiscovered(len(refs))

	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		r.process(ctx, ref, &report)
	}
	return report, nil
}

func (r *PlaylistRunner) process(ctx context.Context, ref SegmentReference, report *CycleReport) {
	if r.ledger.IsUploaded(ref.Name) {
		report.Skipped++
		return
	}

	path := filepath.Join(r.cfg.Dir, ref.Name)
	if !r.storedLocally(path) {
		stored, n, err := r.discoverer.Download(ctx, ref, r.cfg.Dir)
		if err != nil {
			report.DownloadFailed++
			r.metrics.IncDownloadFailures()
			r.log.Warn("segment download failed", slog.String("segment", ref.Name), slog.Any("error", err))
			return
		}
		path = stored
		report.Downloaded++
		r.metrics.IncSegmentsDownloaded()
		r.log.Info("segment downloaded",
			slog.String("segment", ref.Name),
			slog.String("size", humanize.Bytes(uint64(n))))
		r.record(ref.Name, StatusDownloaded, ref.Location)
	} else {
		r.log.Debug("retrying upload of stored segment", slog.String("segment", ref.Name))
	}

	res := r.uploader.Upload(ctx, path)
	if !res.OK {
		report.UploadFailed++
		r.log.Warn("segment upload failed",
			slog.String("segment", ref.Name),
			slog.String("kind", res.Kind.String()),
			slog.String("reason", res.Reason))
		r.record(ref.Name, StatusUploadFail, res.Reason)
		return
	}

	report.Uploaded++
	r.log.Info("segment uploaded", slog.String("segment", ref.Name), slog.String("url", res.URL))
	r.record(ref.Name, StatusUploaded, res.URL)
	if r.cfg.DeleteAfterUpload {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("remove uploaded segment failed", slog.String("segment", ref.Name), slog.Any("error", err))
		}
	}
}

// storedLocally reports whether a complete copy of the segment is on disk.
// Downloads are renamed into place, so presence means complete.
func (r *PlaylistRunner) storedLocally(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (r *PlaylistRunner) record(name string, status Status, info string) {
	if err := r.ledger.Append(name, status, info); err != nil {
		r.log.Error("ledger append failed", slog.String("segment", name), slog.Any("error", err))
	}
}
