package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultUploadEndpoint is the file-hosting API that receives segment uploads.
const DefaultUploadEndpoint = "https://catbox.moe/user/api.php"

// DefaultUserAgent identifies playlist and segment requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

// Config holds every tunable of a relay run. Zero values are replaced by
// FromEnv defaults; flags may override individual fields afterwards.
type Config struct {
	SourceURL      string
	OutDir         string
	UserHash       string
	UploadEndpoint string
	UserAgent      string

	PollInterval    time.Duration
	MaxRetry        int
	RetryBackoff    time.Duration
	UploadTimeout   time.Duration
	FetchTimeout    time.Duration
	MaxParallel     int
	SegmentDuration time.Duration
	StabilityWindow time.Duration
	FinalSweepDelay time.Duration

	DeleteAfterUpload bool
	ForceFallback     bool

	FFmpegBin  string
	StatusAddr string
	LogLevel   string
	LogFormat  string
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv builds a Config from the process environment. pollFallback is the
// poll interval used when POLL_INTERVAL is unset, since the playlist and
// remux variants poll at different rates.
func FromEnv(pollFallback time.Duration) Config {
	return Config{
		SourceURL:         GetEnv("HLS_URL", ""),
		OutDir:            GetEnv("OUT_DIR", "out"),
		UserHash:          GetEnv("USERHASH", ""),
		UploadEndpoint:    GetEnv("UPLOAD_ENDPOINT", DefaultUploadEndpoint),
		UserAgent:         GetEnv("USER_AGENT", DefaultUserAgent),
		PollInterval:      GetEnvDuration("POLL_INTERVAL", pollFallback),
		MaxRetry:          GetEnvInt("MAX_RETRY", 3),
		RetryBackoff:      GetEnvDuration("RETRY_BACKOFF", 400*time.Millisecond),
		UploadTimeout:     GetEnvDuration("UPLOAD_TIMEOUT", 90*time.Second),
		FetchTimeout:      GetEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		MaxParallel:       GetEnvInt("MAX_PARALLEL", 2),
		SegmentDuration:   time.Duration(GetEnvInt("SEG_DUR", 10)) * time.Second,
		StabilityWindow:   GetEnvDuration("STABILITY_WINDOW", 300*time.Millisecond),
		FinalSweepDelay:   GetEnvDuration("FINAL_SWEEP_DELAY", 500*time.Millisecond),
		DeleteAfterUpload: GetEnvBool("DELETE_AFTER_UPLOAD", false),
		ForceFallback:     GetEnvBool("FORCE_FALLBACK", false),
		FFmpegBin:         GetEnv("FFMPEG_BIN", "ffmpeg"),
		StatusAddr:        GetEnv("STATUS_ADDR", ""),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		LogFormat:         GetEnv("LOG_FORMAT", "json"),
	}
}

// Validate reports the first setting that makes a run impossible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SourceURL) == "" {
		return errors.New("source URL is required")
	}
	u, err := url.Parse(c.SourceURL)
	if err != nil {
		return fmt.Errorf("invalid source URL %q: %w", c.SourceURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source URL must be http or https, got %q", c.SourceURL)
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return errors.New("output directory is required")
	}
	if c.MaxRetry < 1 {
		return fmt.Errorf("max retry must be at least 1, got %d", c.MaxRetry)
	}
	if c.MaxParallel < 1 {
		return fmt.Errorf("max parallel must be at least 1, got %d", c.MaxParallel)
	}
	if c.SegmentDuration < time.Second {
		return fmt.Errorf("segment duration must be at least 1s, got %s", c.SegmentDuration)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool accepts the values understood by strconv.ParseBool.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration accepts Go duration strings ("5s", "400ms") or a bare
// integer number of seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
