package config

import (
	"testing"
	"time"
)

func TestFromEnv_defaults(t *testing.T) {
	for _, k := range []string{"HLS_URL", "OUT_DIR", "MAX_RETRY", "POLL_INTERVAL", "SEG_DUR", "DELETE_AFTER_UPLOAD", "UPLOAD_ENDPOINT"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv(5 * time.Second)
	if cfg.OutDir != "out" {
		t.Errorf("OutDir = %q, want out", cfg.OutDir)
	}
	if cfg.MaxRetry != 3 {
		t.Errorf("MaxRetry = %d, want 3", cfg.MaxRetry)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", cfg.PollInterval)
	}
	if cfg.SegmentDuration != 10*time.Second {
		t.Errorf("SegmentDuration = %s, want 10s", cfg.SegmentDuration)
	}
	if cfg.UploadEndpoint != DefaultUploadEndpoint {
		t.Errorf("UploadEndpoint = %q", cfg.UploadEndpoint)
	}
	if cfg.DeleteAfterUpload {
		t.Error("DeleteAfterUpload should default to false")
	}
}

func TestFromEnv_overrides(t *testing.T) {
	t.Setenv("HLS_URL", "https://h.example/live/index.m3u8")
	t.Setenv("MAX_RETRY", "5")
	t.Setenv("POLL_INTERVAL", "2")
	t.Setenv("RETRY_BACKOFF", "250ms")
	t.Setenv("DELETE_AFTER_UPLOAD", "true")
	t.Setenv("SEG_DUR", "6")

	cfg := FromEnv(time.Second)
	if cfg.SourceURL != "https://h.example/live/index.m3u8" {
		t.Errorf("SourceURL = %q", cfg.SourceURL)
	}
	if cfg.MaxRetry != 5 {
		t.Errorf("MaxRetry = %d, want 5", cfg.MaxRetry)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %s, want 2s", cfg.PollInterval)
	}
	if cfg.RetryBackoff != 250*time.Millisecond {
		t.Errorf("RetryBackoff = %s, want 250ms", cfg.RetryBackoff)
	}
	if !cfg.DeleteAfterUpload {
		t.Error("DeleteAfterUpload should be true")
	}
	if cfg.SegmentDuration != 6*time.Second {
		t.Errorf("SegmentDuration = %s, want 6s", cfg.SegmentDuration)
	}
}

func TestGetEnvInt_invalid_uses_fallback(t *testing.T) {
	t.Setenv("MAX_PARALLEL", "many")
	if got := GetEnvInt("MAX_PARALLEL", 2); got != 2 {
		t.Errorf("GetEnvInt = %d, want 2", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		SourceURL:       "https://h.example/live/index.m3u8",
		OutDir:          "out",
		MaxRetry:        3,
		MaxParallel:     2,
		SegmentDuration: 10 * time.Second,
		PollInterval:    time.Second,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty_url", func(c *Config) { c.SourceURL = "" }},
		{"ftp_url", func(c *Config) { c.SourceURL = "ftp://h.example/a.m3u8" }},
		{"empty_out_dir", func(c *Config) { c.OutDir = " " }},
		{"zero_retry", func(c *Config) { c.MaxRetry = 0 }},
		{"zero_parallel", func(c *Config) { c.MaxParallel = 0 }},
		{"short_segment", func(c *Config) { c.SegmentDuration = 500 * time.Millisecond }},
		{"zero_poll", func(c *Config) { c.PollInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
