package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	// RemuxPrefix and RemuxSuffix bound the files the remuxer writes:
	// seg_000000.mp4, seg_000001.mp4, ...
	RemuxPrefix = "seg_"
	RemuxSuffix = ".mp4"
)

// Process is a supervised external producer of segment files.
type Process interface {
	Start(ctx context.Context) error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done is closed. nil means a clean
	// exit.
	Err() error
}

// FFmpegRemuxer runs ffmpeg's segment muxer, copying the source into
// fixed-duration mp4 files without re-encoding.
type FFmpegRemuxer struct {
	Bin             string
	Source          string
	OutDir          string
	SegmentDuration time.Duration
	UserAgent       string
	// Output receives ffmpeg's stdout and stderr.
	Output io.Writer

	once sync.Once
	done chan struct{}
	err  error
}

// NewFFmpegRemuxer returns a remuxer writing into outDir.
func NewFFmpegRemuxer(bin, source, outDir string, segDur time.Duration, output io.Writer) *FFmpegRemuxer {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegRemuxer{
		Bin:             bin,
		Source:          source,
		OutDir:          outDir,
		SegmentDuration: segDur,
		Output:          output,
		done:            make(chan struct{}),
	}
}

// Args returns the ffmpeg command line, excluding the binary.
func (r *FFmpegRemuxer) Args() []string {
	secs := int(r.SegmentDuration / time.Second)
	if secs < 1 {
		secs = 1
	}
	args := []string{"-hide_banner", "-loglevel", "warning"}
	if r.UserAgent != "" {
		args = append(args, "-user_agent", r.UserAgent)
	}
	return append(args,
		"-i", r.Source,
		"-map", "0",
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-f", "segment",
		"-segment_time", strconv.Itoa(secs),
		"-reset_timestamps", "1",
		"-segment_format", "mp4",
		filepath.Join(r.OutDir, RemuxPrefix+"%06d"+RemuxSuffix),
	)
}

// Start launches ffmpeg. Cancelling ctx kills it.
func (r *FFmpegRemuxer) Start(ctx context.Context) error {
	started := false
	var startErr error
	r.once.Do(func() {
		started = true
		bin, err := exec.LookPath(r.Bin)
		if err != nil {
			startErr = fmt.Errorf("find %s: %w", r.Bin, err)
			return
		}
		cmd := exec.CommandContext(ctx, bin, r.Args()...)
		if r.Output != nil {
			cmd.Stdout = r.Output
			cmd.Stderr = r.Output
		}
		if err := cmd.Start(); err != nil {
			startErr = fmt.Errorf("start %s: %w", r.Bin, err)
			return
		}
		go func() {
			r.err = cmd.Wait()
			close(r.done)
		}()
	})
	if !started {
		return errors.New("remuxer already started")
	}
	return startErr
}

// Done implements Process.Done.
func (r *FFmpegRemuxer) Done() <-chan struct{} { return r.done }

// Err implements Process.Err.
func (r *FFmpegRemuxer) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
