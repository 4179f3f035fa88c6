package relay

import (
	"bufio"
	"bytes"
	"net/url"
	"path"
	"strings"

	"github.com/grafov/m3u8"
)

// segmentSuffix marks a media segment reference in a playlist line.
const segmentSuffix = ".ts"

// ExtractSegments scans playlist text line by line and returns every line
// that references a .ts segment (optionally followed by a query string),
// resolved against playlistURL, in order of appearance. Tag and comment
// lines are ignored; nothing else about the playlist is interpreted.
func ExtractSegments(body []byte, playlistURL string) []SegmentReference {
	var refs []SegmentReference
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !isSegmentLine(line) {
			continue
		}
		loc := ResolveReference(playlistURL, line)
		refs = append(refs, SegmentReference{
			Raw:      line,
			Location: loc,
			Name:     ShortName(loc),
		})
	}
	return refs
}

func isSegmentLine(line string) bool {
	return strings.HasSuffix(strings.ToLower(stripQuery(line)), segmentSuffix)
}

// ResolveReference turns a playlist line into an absolute URL. Lines that
// start with http:// or https:// are returned unchanged; root-relative
// lines resolve against the playlist's host; anything else is appended to
// the playlist URL's directory.
func ResolveReference(playlistURL, ref string) string {
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ref
	}

	if strings.HasPrefix(ref, "/") {
		if base, err := url.Parse(playlistURL); err == nil && base.Host != "" {
			if rel, err := url.Parse(ref); err == nil {
				return base.ResolveReference(rel).String()
			}
		}
	}

	dir := stripQuery(playlistURL)
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	}
	return strings.TrimRight(dir, "/") + "/" + strings.TrimLeft(ref, "/")
}

// ShortName returns the final path component of a URL or file path with
// any query string or fragment removed. It is the dedup key for a segment.
// Percent escapes are kept as written, so a%2Fx.ts and b%2Fx.ts stay
// distinct, and the result is in LedgerName form.
func ShortName(loc string) string {
	return LedgerName(path.Base(stripQuery(loc)))
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

// PlaylistKind reports how body decodes as HLS: "master", "media" or
// "unknown". It is only used to explain an empty extraction, since master
// playlists are not followed.
func PlaylistKind(body []byte) string {
	_, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return "unknown"
	}
	switch listType {
	case m3u8.MASTER:
		return "master"
	case m3u8.MEDIA:
		return "media"
	default:
		return "unknown"
	}
}
