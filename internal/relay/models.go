package relay

import (
	"sort"
	"time"
)

// Status is the outcome recorded by a ledger entry.
type Status string

const (
	StatusDownloaded Status = "DOWNLOADED"
	StatusUploaded   Status = "UPLOADED"
	StatusUploadFail Status = "UPLOAD_FAIL"
)

// SegmentReference is one discovered segment: a playlist line or a
// directory filename, its absolute location and its short name. The short
// name is the dedup key. References are rebuilt on every poll cycle.
type SegmentReference struct {
	Raw      string
	Location string
	Name     string
}

// LedgerEntry is one line of the ledger. Entries are never modified after
// they have been appended.
type LedgerEntry struct {
	Time   time.Time `json:"time"`
	Name   string    `json:"name"`
	Status Status    `json:"status"`
	Info   string    `json:"info"`
}

// LedgerState is the in-memory projection of the ledger.
//
// Any UPLOADED entry for a name puts it in the uploaded set permanently,
// even when later entries for the same name record failures. A name in the
// uploaded set is never uploaded again.
type LedgerState struct {
	uploaded   map[string]struct{}
	downloaded map[string]struct{}
	failures   int
	entries    int
	last       *LedgerEntry
}

// NewLedgerState returns an empty state.
func NewLedgerState() LedgerState {
	return LedgerState{
		uploaded:   make(map[string]struct{}),
		downloaded: make(map[string]struct{}),
	}
}

func (s *LedgerState) apply(e LedgerEntry) {
	s.entries++
	switch e.Status {
	case StatusUploaded:
		s.uploaded[e.Name] = struct{}{}
	case StatusDownloaded:
		s.downloaded[e.Name] = struct{}{}
	case StatusUploadFail:
		s.failures++
	}
	last := e
	s.last = &last
}

// IsUploaded reports whether name has any UPLOADED entry.
func (s LedgerState) IsUploaded(name string) bool {
	_, ok := s.uploaded[name]
	return ok
}

// IsDownloaded reports whether name was recorded as stored locally.
func (s LedgerState) IsDownloaded(name string) bool {
	_, ok := s.downloaded[name]
	return ok
}

// Uploaded returns the uploaded names, sorted.
func (s LedgerState) Uploaded() []string {
	return sortedKeys(s.uploaded)
}

// Downloaded returns the downloaded names, sorted.
func (s LedgerState) Downloaded() []string {
	return sortedKeys(s.downloaded)
}

// Clone returns a deep copy that shares nothing with s.
func (s LedgerState) Clone() LedgerState {
	c := NewLedgerState()
	for k := range s.uploaded {
		c.uploaded[k] = struct{}{}
	}
	for k := range s.downloaded {
		c.downloaded[k] = struct{}{}
	}
	c.failures = s.failures
	c.entries = s.entries
	if s.last != nil {
		last := *s.last
		c.last = &last
	}
	return c
}

// LedgerSnapshot summarises a LedgerState for reporting.
type LedgerSnapshot struct {
	Entries    int          `json:"entries"`
	Uploaded   int          `json:"uploaded"`
	Downloaded int          `json:"downloaded"`
	Failures   int          `json:"upload_failures"`
	Last       *LedgerEntry `json:"last_entry,omitempty"`
}

// Snapshot summarises the state.
func (s LedgerState) Snapshot() LedgerSnapshot {
	snap := LedgerSnapshot{
		Entries:    s.entries,
		Uploaded:   len(s.uploaded),
		Downloaded: len(s.downloaded),
		Failures:   s.failures,
	}
	if s.last != nil {
		last := *s.last
		snap.Last = &last
	}
	return snap
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FailureKind classifies a failed upload.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureFileNotFound
	FailureTransport
	FailureNonURLResponse
	FailureHTTPStatus
	FailureRetriesExhausted
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureFileNotFound:
		return "file_not_found"
	case FailureTransport:
		return "transport_error"
	case FailureNonURLResponse:
		return "non_url_response"
	case FailureHTTPStatus:
		return "http_status"
	case FailureRetriesExhausted:
		return "retries_exhausted"
	default:
		return "unknown"
	}
}

// UploadResult is the outcome of one Upload call. When OK is true URL holds
// the public link; otherwise Kind and Reason describe the failure.
type UploadResult struct {
	OK     bool
	URL    string
	Kind   FailureKind
	Reason string
}

// Payload returns the URL on success and the failure reason otherwise.
func (r UploadResult) Payload() string {
	if r.OK {
		return r.URL
	}
	return r.Reason
}

func uploaded(url string) UploadResult {
	return UploadResult{OK: true, URL: url}
}

func uploadFailed(kind FailureKind, reason string) UploadResult {
	return UploadResult{Kind: kind, Reason: reason}
}
