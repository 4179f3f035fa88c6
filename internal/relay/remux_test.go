package relay

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFFmpegRemuxer_Args(t *testing.T) {
	r := NewFFmpegRemuxer("", "https://cdn.example/live/index.m3u8", "/data/out", 10*time.Second, nil)
	r.UserAgent = "test-agent"

	got := strings.Join(r.Args(), " ")
	want := "-hide_banner -loglevel warning -user_agent test-agent " +
		"-i https://cdn.example/live/index.m3u8 -map 0 -c copy -bsf:a aac_adtstoasc " +
		"-f segment -segment_time 10 -reset_timestamps 1 -segment_format mp4 " +
		filepath.Join("/data/out", "seg_%06d.mp4")
	if got != want {
		t.Errorf("args =\n%s\nwant\n%s", got, want)
	}
	if r.Bin != "ffmpeg" {
		t.Errorf("default bin = %q", r.Bin)
	}
}

func TestFFmpegRemuxer_Args_minimum_segment(t *testing.T) {
	r := NewFFmpegRemuxer("ffmpeg", "in.m3u8", "out", 200*time.Millisecond, nil)
	args := r.Args()
	for i, a := range args {
		if a == "-segment_time" && args[i+1] != "1" {
			t.Errorf("segment_time = %s, want 1", args[i+1])
		}
		if a == "-user_agent" {
			t.Error("user agent flag without a user agent")
		}
	}
}

func TestFFmpegRemuxer_missing_binary(t *testing.T) {
	r := NewFFmpegRemuxer(filepath.Join(t.TempDir(), "no-such-ffmpeg"), "in.m3u8", t.TempDir(), time.Second, nil)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected an error for a missing binary")
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start should be refused")
	}
}
