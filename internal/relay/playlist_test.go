package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractSegments_scenario(t *testing.T) {
	body := []byte("#EXTM3U\n#EXTINF:4.0,\nseg1.ts\n#EXTINF:4.0,\nseg2.ts?x=1\nnot-a-segment.aac\n")

	refs := ExtractSegments(body, "https://h.example/live/index.m3u8")
	if len(refs) != 2 {
		t.Fatalf("expected 2 references, got %d: %+v", len(refs), refs)
	}
	if refs[0].Name != "seg1.ts" || refs[1].Name != "seg2.ts" {
		t.Errorf("short names = %q, %q", refs[0].Name, refs[1].Name)
	}
	if refs[1].Location != "https://h.example/live/seg2.ts?x=1" {
		t.Errorf("location = %q", refs[1].Location)
	}
	if refs[1].Raw != "seg2.ts?x=1" {
		t.Errorf("raw = %q", refs[1].Raw)
	}
}

func TestExtractSegments_escaped_names_stay_distinct(t *testing.T) {
	refs := ExtractSegments([]byte("a%2Fx.ts\nb%2Fx.ts\nclip | 1.ts\n"), "https://h.example/live/index.m3u8")
	if len(refs) != 3 {
		t.Fatalf("expected 3 references, got %+v", refs)
	}
	want := []string{"a%2Fx.ts", "b%2Fx.ts", "clip %7C 1.ts"}
	for i, ref := range refs {
		if ref.Name != want[i] {
			t.Errorf("refs[%d].Name = %q, want %q", i, ref.Name, want[i])
		}
	}
}

func TestExtractSegments_ignores_tags_and_lookalikes(t *testing.T) {
	body := []byte(`#EXTM3U
#EXT-X-MAP:URI="init.ts"
#EXT-X-KEY:METHOD=AES-128,URI="key.ts"
https://cdn.tsunami.example/stream/a.mp4

b.TS
`)
	refs := ExtractSegments(body, "https://h.example/live/index.m3u8")
	if len(refs) != 1 || refs[0].Name != "b.TS" {
		t.Errorf("got %+v", refs)
	}
}

func TestResolveReference(t *testing.T) {
	tests := []struct {
		name     string
		playlist string
		ref      string
		want     string
	}{
		{"relative", "https://h.example/live/index.m3u8", "seg3.ts", "https://h.example/live/seg3.ts"},
		{"absolute", "https://h.example/live/index.m3u8", "https://cdn.example/x/seg.ts", "https://cdn.example/x/seg.ts"},
		{"absolute_http", "https://h.example/live/index.m3u8", "http://cdn.example/seg.ts?t=1", "http://cdn.example/seg.ts?t=1"},
		{"playlist_query_dropped", "https://h.example/live/index.m3u8?token=abc/def", "seg3.ts", "https://h.example/live/seg3.ts"},
		{"subdirectory", "https://h.example/live/index.m3u8", "720p/seg3.ts", "https://h.example/live/720p/seg3.ts"},
		{"root_relative", "https://h.example/live/index.m3u8", "/media/seg3.ts", "https://h.example/media/seg3.ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveReference(tt.playlist, tt.ref); got != tt.want {
				t.Errorf("ResolveReference = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShortName(t *testing.T) {
	tests := map[string]string{
		"https://h.example/live/seg2.ts?x=1":  "seg2.ts",
		"https://h.example/live/seg2.ts#frag": "seg2.ts",
		"/tmp/out/seg_000001.mp4":             "seg_000001.mp4",
		"seg1.ts":                             "seg1.ts",
		"https://h.example/live/a%2Fx.ts":     "a%2Fx.ts",
		"https://h.example/live/b%20x.ts?t=1": "b%20x.ts",
		"clip | 1.ts":                         "clip %7C 1.ts",
	}
	for in, want := range tests {
		if got := ShortName(in); got != want {
			t.Errorf("ShortName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlaylistKind(t *testing.T) {
	master := []byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nlow/index.m3u8\n")
	if got := PlaylistKind(master); got != "master" {
		t.Errorf("master kind = %q", got)
	}
	media := []byte("#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\nseg1.ts\n")
	if got := PlaylistKind(media); got != "media" {
		t.Errorf("media kind = %q", got)
	}
}

func TestDiscoverer_FetchPlaylist_sends_user_agent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("#EXTM3U\nseg1.ts\n"))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client(), "relay-test/1.0", discardLogger())
	refs, err := d.Discover(context.Background(), srv.URL+"/live/index.m3u8")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if gotUA != "relay-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if len(refs) != 1 || refs[0].Location != srv.URL+"/live/seg1.ts" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestDiscoverer_FetchPlaylist_non_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client(), "", discardLogger())
	_, err := d.FetchPlaylist(context.Background(), srv.URL)
	if !errors.Is(err, ErrPlaylistFetch) {
		t.Fatalf("expected ErrPlaylistFetch, got %v", err)
	}
}

func TestDiscoverer_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/live/missing.ts" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDiscoverer(srv.Client(), "", discardLogger())

	t.Run("stores_under_short_name", func(t *testing.T) {
		ref := SegmentReference{Location: srv.URL + "/live/seg1.ts?x=1", Name: "seg1.ts"}
		path, n, err := d.Download(context.Background(), ref, dir)
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
		if path != filepath.Join(dir, "seg1.ts") || n != int64(len("segment-bytes")) {
			t.Errorf("path=%q n=%d", path, n)
		}
		b, _ := os.ReadFile(path)
		if string(b) != "segment-bytes" {
			t.Errorf("content = %q", b)
		}
	})

	t.Run("failure_leaves_nothing", func(t *testing.T) {
		ref := SegmentReference{Location: srv.URL + "/live/missing.ts", Name: "missing.ts"}
		_, _, err := d.Download(context.Background(), ref, dir)
		if !errors.Is(err, ErrSegmentFetch) {
			t.Fatalf("expected ErrSegmentFetch, got %v", err)
		}
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if e.Name() != "seg1.ts" {
				t.Errorf("unexpected leftover file %q", e.Name())
			}
		}
	})
}
