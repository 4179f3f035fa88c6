package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"hls-relay/internal/platform/metrics"
)

const (
	// DefaultMaxRetry is the number of attempts per transport.
	DefaultMaxRetry = 3
	// DefaultRetryBackoff is the fixed pause between attempts.
	DefaultRetryBackoff = 400 * time.Millisecond

	maxReasonBody = 512
)

// UploaderConfig holds the upload endpoint contract and retry policy.
type UploaderConfig struct {
	Endpoint string
	UserHash string
	MaxRetry int
	Backoff  time.Duration
}

// Uploader sends one local file to the hosting API. It tries the primary
// transport up to MaxRetry times; a protocol mismatch (or a missing
// primary) switches the call to the fallback transport, which gets its own
// MaxRetry attempts under the same validation rules. Upload never touches
// the local file.
type Uploader struct {
	cfg      UploaderConfig
	primary  Transport
	fallback Transport
	clock    Clock
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewUploader builds an Uploader. Either transport may be nil, but not both
// if uploads are expected to succeed.
func NewUploader(cfg UploaderConfig, primary, fallback Transport, clock Clock, log *slog.Logger, m *metrics.Metrics) *Uploader {
	if cfg.MaxRetry < 1 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Uploader{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		clock:    clock,
		log:      log,
		metrics:  m,
	}
}

// Upload uploads the file at path and reports the outcome. Failures are
// returned in the result, never as a panic or error.
func (u *Uploader) Upload(ctx context.Context, path string) UploadResult {
	res := u.upload(ctx, path)
	if res.OK {
		u.metrics.IncUploads("ok")
	} else {
		u.metrics.IncUploads("failed")
	}
	return res
}

func (u *Uploader) upload(ctx context.Context, path string) UploadResult {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return uploadFailed(FailureFileNotFound, "file not found: "+path)
	}

	form := UploadForm{Endpoint: u.cfg.Endpoint, UserHash: u.cfg.UserHash, FilePath: path}
	name := filepath.Base(path)

	if u.primary != nil {
		res, switchOver := u.attempts(ctx, u.primary, form, name, true)
		if !switchOver {
			return res
		}
		u.log.Warn("primary upload transport incompatible, switching to fallback",
			slog.String("segment", name),
			slog.String("transport", u.primary.Name()),
			slog.String("reason", res.Reason))
	}

	if u.fallback == nil {
		return uploadFailed(FailureTransport, "transport error: "+ErrTransportUnavailable.Error())
	}
	u.metrics.IncFallbackSwitches()
	res, _ := u.attempts(ctx, u.fallback, form, name, false)
	return res
}

// attempts runs up to MaxRetry attempts on t. The second return value is
// true when the caller should move on to the fallback transport.
func (u *Uploader) attempts(ctx context.Context, t Transport, form UploadForm, name string, canSwitch bool) (UploadResult, bool) {
	last := uploadFailed(FailureRetriesExhausted, fmt.Sprintf("upload failed after %d attempts", u.cfg.MaxRetry))

	for attempt := 1; attempt <= u.cfg.MaxRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return uploadFailed(last.Kind, fmt.Sprintf("%s (stopped: %v)", last.Reason, err)), false
		}

		status, body, err := t.Send(ctx, form)
		u.metrics.IncUploadAttempts(t.Name())

		if err != nil && canSwitch && (errors.Is(err, ErrProtocolMismatch) || errors.Is(err, ErrTransportUnavailable)) {
			return uploadFailed(FailureTransport, "transport error: "+err.Error()), true
		}

		res := classify(status, body, err)
		if res.OK {
			u.log.Debug("upload attempt succeeded",
				slog.String("segment", name),
				slog.String("transport", t.Name()),
				slog.Int("attempt", attempt))
			return res, false
		}
		last = res
		u.log.Debug("upload attempt failed",
			slog.String("segment", name),
			slog.String("transport", t.Name()),
			slog.Int("attempt", attempt),
			slog.String("reason", res.Reason))

		if attempt < u.cfg.MaxRetry {
			if err := u.clock.Sleep(ctx, u.cfg.Backoff); err != nil {
				return uploadFailed(last.Kind, fmt.Sprintf("%s (stopped: %v)", last.Reason, err)), false
			}
		}
	}
	return last, false
}

// classify applies the success rule: a 2xx status and a body that is a
// well-formed URL.
func classify(status int, body string, err error) UploadResult {
	if err != nil {
		return uploadFailed(FailureTransport, "transport error: "+err.Error())
	}
	trimmed := strings.TrimSpace(body)
	if status < 200 || status >= 300 {
		return uploadFailed(FailureHTTPStatus, fmt.Sprintf("HTTP %d, response: %s", status, truncate(trimmed)))
	}
	if trimmed == "" || !isURL(trimmed) {
		return uploadFailed(FailureNonURLResponse, "non-URL response: "+truncate(trimmed))
	}
	return uploaded(trimmed)
}

func isURL(s string) bool {
	if strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// truncate caps s at maxReasonBody bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxReasonBody {
		return s
	}
	cut := maxReasonBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
