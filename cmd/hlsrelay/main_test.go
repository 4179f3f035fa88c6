package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"hls-relay/internal/platform/config"
	"hls-relay/internal/relay"
)

func parseCommand(t *testing.T, opts *options, args ...string) (*cobra.Command, []string) {
	t.Helper()
	root := buildRootCommand(opts)
	cmd, rest, err := root.Find(args)
	if err != nil {
		t.Fatalf("find command: %v", err)
	}
	if err := cmd.ParseFlags(rest); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd, cmd.Flags().Args()
}

func TestLoadConfig_flags_override_env(t *testing.T) {
	t.Setenv("HLS_URL", "https://env.example/live/index.m3u8")
	t.Setenv("OUT_DIR", "from-env")
	t.Setenv("MAX_PARALLEL", "3")
	t.Setenv("USERHASH", "env-hash")

	opts := &options{}
	cmd, args := parseCommand(t, opts, "remux",
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--out", "from-flag", "--max-parallel", "5", "--segment-duration", "6s",
		"https://flag.example/live/index.m3u8")

	cfg, err := loadConfig(cmd, opts, args, relay.DefaultStreamInterval)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.SourceURL != "https://flag.example/live/index.m3u8" {
		t.Errorf("source = %q", cfg.SourceURL)
	}
	if cfg.OutDir != "from-flag" || cfg.MaxParallel != 5 || cfg.SegmentDuration != 6*time.Second {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.UserHash != "env-hash" {
		t.Errorf("unset flag overrode env: userhash = %q", cfg.UserHash)
	}
	if cfg.PollInterval != relay.DefaultStreamInterval {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
}

func TestLoadConfig_playlist_defaults(t *testing.T) {
	t.Setenv("HLS_URL", "https://env.example/live/index.m3u8")
	opts := &options{}
	cmd, args := parseCommand(t, opts, "playlist", "--env-file", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := loadConfig(cmd, opts, args, relay.DefaultPollInterval)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.PollInterval != 5*time.Second || cfg.MaxRetry != 3 || cfg.DeleteAfterUpload {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestPlaylistCommand_requires_source(t *testing.T) {
	t.Setenv("HLS_URL", "")
	root := newRootCommand()
	root.SetArgs([]string{"playlist", "--env-file", filepath.Join(t.TempDir(), "missing.env")})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "source URL is required") {
		t.Errorf("Execute = %v", err)
	}
}

func TestNewRuntime_rejects_second_instance(t *testing.T) {
	t.Setenv("HLS_URL", "https://env.example/live/index.m3u8")
	t.Setenv("LOG_LEVEL", "error")
	dir := t.TempDir()
	opts := &options{}
	cmd, args := parseCommand(t, opts, "playlist", "--env-file", filepath.Join(dir, "missing.env"), "--out", dir)
	cfg, err := loadConfig(cmd, opts, args, relay.DefaultPollInterval)
	if err != nil {
		t.Fatal(err)
	}

	first, err := newRuntime(cfg, "playlist")
	if err != nil {
		t.Fatalf("first runtime: %v", err)
	}
	defer first.Close()

	if _, err := newRuntime(cfg, "playlist"); err == nil || !strings.Contains(err.Error(), "in use") {
		t.Errorf("second runtime error = %v", err)
	}
}

func TestBuildTransports(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.FromEnv(relay.DefaultPollInterval)

	primary, fallback := buildTransports(cfg, log)
	if primary == nil || primary.Name() != "http" {
		t.Errorf("primary = %v", primary)
	}
	if fallback == nil || fallback.Name() != "raw-http1" {
		t.Errorf("fallback = %v", fallback)
	}

	cfg.ForceFallback = true
	primary, fallback = buildTransports(cfg, log)
	if primary != nil || fallback == nil {
		t.Errorf("forced fallback: primary=%v fallback=%v", primary, fallback)
	}
}
