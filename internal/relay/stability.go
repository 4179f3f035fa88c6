package relay

import (
	"context"
	"os"
	"time"
)

// DefaultStabilityWindow is the pause between the two size samples.
const DefaultStabilityWindow = 300 * time.Millisecond

// StabilityDetector decides whether a file produced by another process has
// finished being written.
type StabilityDetector struct {
	window time.Duration
	clock  Clock
}

// NewStabilityDetector returns a detector sampling window apart.
func NewStabilityDetector(window time.Duration, clock Clock) *StabilityDetector {
	if window <= 0 {
		window = DefaultStabilityWindow
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &StabilityDetector{window: window, clock: clock}
}

// IsStable samples the size of path twice, one window apart. The file is
// stable when it exists at both samples, is non-empty and its size did not
// change.
func (d *StabilityDetector) IsStable(ctx context.Context, path string) bool {
	first, err := os.Stat(path)
	if err != nil || !first.Mode().IsRegular() {
		return false
	}
	if err := d.clock.Sleep(ctx, d.window); err != nil {
		return false
	}
	second, err := os.Stat(path)
	if err != nil {
		return false
	}
	return first.Size() > 0 && first.Size() == second.Size()
}
