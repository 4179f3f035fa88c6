package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"hls-relay/internal/platform/metrics"
)

const (
	// LedgerFileName is the ledger file inside the output directory.
	LedgerFileName = "upload_log.txt"

	ledgerSeparator  = " | "
	ledgerTimeLayout = "2006-01-02 15:04:05"
)

// Ledger is the append-only record of download and upload outcomes and the
// in-memory LedgerState derived from it. Append is safe for concurrent use;
// calls are serialized so lines never interleave.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	state   LedgerState
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewLedger wraps store. Call Load before consulting the state.
func NewLedger(store Store, clock Clock, m *metrics.Metrics) *Ledger {
	if clock == nil {
		clock = SystemClock()
	}
	return &Ledger{
		store:   store,
		state:   NewLedgerState(),
		now:     clock.Now,
		metrics: m,
	}
}

// Load replays every persisted line into a fresh state, replacing the
// current one, and returns a copy of it. Malformed lines are skipped.
// Loading the same log twice yields the same state.
func (l *Ledger) Load() (LedgerState, error) {
	lines, err := l.store.Lines()
	if err != nil {
		return LedgerState{}, err
	}

	state := NewLedgerState()
	for _, line := range lines {
		e, ok := ParseLedgerLine(line)
		if !ok {
			continue
		}
		state.apply(e)
	}

	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
	return state.Clone(), nil
}

// Append persists one entry and then applies it to the in-memory state. If
// the write fails the state is left unchanged.
func (l *Ledger) Append(name string, status Status, info string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := LedgerEntry{Time: l.now(), Name: LedgerName(name), Status: status, Info: info}
	if err := l.store.Append(FormatLedgerLine(e)); err != nil {
		return fmt.Errorf("record %s %s: %w", status, name, err)
	}
	l.state.apply(e)
	l.metrics.IncLedgerEntries(string(status))
	return nil
}

// IsUploaded reports whether name has ever been recorded as UPLOADED.
func (l *Ledger) IsUploaded(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.IsUploaded(LedgerName(name))
}

// IsDownloaded reports whether name has been recorded as DOWNLOADED.
func (l *Ledger) IsDownloaded(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.IsDownloaded(LedgerName(name))
}

// State returns a copy of the current state.
func (l *Ledger) State() LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Snapshot summarises the current state.
func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Snapshot()
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// FormatLedgerLine renders e as "TIMESTAMP | NAME | STATUS | INFO".
// Line breaks in the name or info are flattened so one entry stays one line,
// and the name goes through LedgerName so it never contains the separator.
func FormatLedgerLine(e LedgerEntry) string {
	return strings.Join([]string{
		e.Time.Format(ledgerTimeLayout),
		LedgerName(e.Name),
		string(e.Status),
		flatten(e.Info),
	}, ledgerSeparator)
}

// ParseLedgerLine parses one ledger line. A line is well-formed when it has
// at least four " | "-separated fields; everything after the third
// separator is the info field. An unparseable timestamp is kept as the zero
// time rather than rejecting the line.
func ParseLedgerLine(line string) (LedgerEntry, bool) {
	parts := strings.SplitN(line, ledgerSeparator, 4)
	if len(parts) < 4 {
		return LedgerEntry{}, false
	}
	name := strings.TrimSpace(parts[1])
	if name == "" {
		return LedgerEntry{}, false
	}

	ts, _ := time.ParseInLocation(ledgerTimeLayout, strings.TrimSpace(parts[0]), time.Local)
	return LedgerEntry{
		Time:   ts,
		Name:   name,
		Status: Status(strings.TrimSpace(parts[2])),
		Info:   parts[3],
	}, true
}

// LedgerName returns name in the form the ledger stores it: line breaks
// become spaces and '|' is written as %7C. Applying it twice gives the same
// result. ShortName already returns names in this form.
func LedgerName(name string) string {
	return strings.ReplaceAll(flatten(name), "|", "%7C")
}

func flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
