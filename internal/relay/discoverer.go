package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrPlaylistFetch wraps every playlist fetch failure. It is transient:
	// the next poll cycle simply tries again.
	ErrPlaylistFetch = errors.New("fetch playlist")

	// ErrSegmentFetch wraps every segment download failure.
	ErrSegmentFetch = errors.New("fetch segment")
)

// Discoverer fetches playlists and segment bodies over HTTP.
type Discoverer struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

// NewDiscoverer returns a Discoverer using client. A nil client gets a
// default one with a 30 second timeout.
func NewDiscoverer(client *http.Client, userAgent string, log *slog.Logger) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Discoverer{client: client, userAgent: userAgent, log: log}
}

// FetchPlaylist downloads the playlist body. Any network error or
// non-2xx status is returned wrapped in ErrPlaylistFetch.
func (d *Discoverer) FetchPlaylist(ctx context.Context, playlistURL string) ([]byte, error) {
	resp, err := d.get(ctx, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlaylistFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrPlaylistFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrPlaylistFetch, err)
	}
	return body, nil
}

// Discover fetches the playlist and extracts its segment references. When
// the playlist yields no segments its HLS kind is logged, which makes an
// unsupported master playlist easy to spot.
func (d *Discoverer) Discover(ctx context.Context, playlistURL string) ([]SegmentReference, error) {
	body, err := d.FetchPlaylist(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	refs := ExtractSegments(body, playlistURL)
	if len(refs) == 0 {
		kind := PlaylistKind(body)
		if kind == "master" {
			d.log.Warn("playlist is a master playlist; only media playlists with .ts segments are followed",
				slog.String("url", playlistURL))
		} else {
			d.log.Debug("playlist has no segment references",
				slog.String("url", playlistURL), slog.String("kind", kind))
		}
	}
	return refs, nil
}

// Download fetches ref and stores it as dir/ref.Name. The body is written
// to a temporary file first and renamed into place, so a file under the
// short name is always complete. It returns the final path and byte count.
func (d *Discoverer) Download(ctx context.Context, ref SegmentReference, dir string) (string, int64, error) {
	resp, err := d.get(ctx, ref.Location)
	if err != nil {
		return "", 0, fmt.Errorf("%w %s: %v", ErrSegmentFetch, ref.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w %s: HTTP %d", ErrSegmentFetch, ref.Name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "."+ref.Name+".*.part")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("%w %s: read body: %v", ErrSegmentFetch, ref.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("write segment: %w", err)
	}

	dst := filepath.Join(dir, ref.Name)
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("store segment: %w", err)
	}
	return dst, n, nil
}

func (d *Discoverer) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	return d.client.Do(req)
}
