package relay

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// Store is the persistence abstraction behind the Ledger: an append-only
// sequence of text lines. Implementations never rewrite or reorder lines.
type Store interface {
	// Lines returns every persisted line in append order.
	Lines() ([]string, error)
	// Append persists one line. It returns only once the line is durable.
	Append(line string) error
	Close() error
}

// ErrLedgerLocked is returned when another process already holds the ledger.
var ErrLedgerLocked = errors.New("ledger is locked by another process")

// FileStore keeps ledger lines in a text file, one per line. The file is
// guarded by an advisory lock next to it so that only one process appends.
type FileStore struct {
	path string
	lock *flock.Flock

	mu sync.Mutex
	f  *os.File
}

// OpenFileStore creates the ledger file if needed, takes its lock and opens
// it for appending.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLedgerLocked, path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open ledger for append: %w", err)
	}
	return &FileStore{path: path, lock: lock, f: f}, nil
}

// Path returns the ledger file path.
func (s *FileStore) Path() string { return s.path }

// Lines implements Store.Lines.
func (s *FileStore) Lines() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return lines, nil
}

// Append implements Store.Append. The line is written with its trailing
// newline in a single write and fsynced before returning.
func (s *FileStore) Append(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return errors.New("ledger store is closed")
	}
	if _, err := s.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Close implements Store.Close and releases the lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// InMemoryStore is a Store that keeps lines in memory.
type InMemoryStore struct {
	mu    sync.Mutex
	lines []string
}

// NewInMemoryStore returns a store pre-populated with lines.
func NewInMemoryStore(lines ...string) *InMemoryStore {
	return &InMemoryStore{lines: append([]string(nil), lines...)}
}

// Lines implements Store.Lines.
func (s *InMemoryStore) Lines() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...), nil
}

// Append implements Store.Append.
func (s *InMemoryStore) Append(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

// Close implements Store.Close.
func (s *InMemoryStore) Close() error { return nil }
