package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"hls-relay/internal/platform/config"
)

// options holds the flags shared by every subcommand. A flag only
// overrides the environment when it was set explicitly.
type options struct {
	envFile     string
	outDir      string
	userHash    string
	endpoint    string
	maxRetry    int
	logLevel    string
	logFormat   string
	statusAddr  string
	forceRaw    bool
	interval    time.Duration
	maxParallel int
	segDur      time.Duration
	ffmpegBin   string
	deleteAfter bool
}

func newRootCommand() *cobra.Command {
	return buildRootCommand(&options{})
}

func buildRootCommand(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hlsrelay",
		Short:         "Relay HLS segments to a file host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "Environment file to load before reading settings")
	pf.StringVarP(&opts.outDir, "out", "o", "", "Working directory for segments and the upload log (OUT_DIR)")
	pf.StringVar(&opts.userHash, "userhash", "", "Upload account hash (USERHASH)")
	pf.StringVar(&opts.endpoint, "endpoint", "", "Upload API endpoint (UPLOAD_ENDPOINT)")
	pf.IntVar(&opts.maxRetry, "max-retry", 0, "Upload attempts per transport (MAX_RETRY)")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	pf.StringVar(&opts.logFormat, "log-format", "", "json or text (LOG_FORMAT)")
	pf.StringVar(&opts.statusAddr, "status-addr", "", "Serve /healthz, /status and /metrics on this address (STATUS_ADDR)")
	pf.BoolVar(&opts.forceRaw, "force-fallback", false, "Upload with the raw HTTP/1.1 transport only (FORCE_FALLBACK)")

	rootCmd.AddCommand(newPlaylistCommand(opts))
	rootCmd.AddCommand(newRemuxCommand(opts))

	return rootCmd
}

// loadConfig reads the env file and environment, then applies every flag
// the user set on cmd. args[0], when present, is the source URL.
func loadConfig(cmd *cobra.Command, opts *options, args []string, pollFallback time.Duration) (config.Config, error) {
	// A missing env file is normal; the process environment still applies.
	_ = config.Load(opts.envFile)

	cfg := config.FromEnv(pollFallback)
	if len(args) > 0 {
		cfg.SourceURL = args[0]
	}

	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "out":
			cfg.OutDir = opts.outDir
		case "userhash":
			cfg.UserHash = opts.userHash
		case "endpoint":
			cfg.UploadEndpoint = opts.endpoint
		case "max-retry":
			cfg.MaxRetry = opts.maxRetry
		case "log-level":
			cfg.LogLevel = opts.logLevel
		case "log-format":
			cfg.LogFormat = opts.logFormat
		case "status-addr":
			cfg.StatusAddr = opts.statusAddr
		case "force-fallback":
			cfg.ForceFallback = opts.forceRaw
		case "interval":
			cfg.PollInterval = opts.interval
		case "max-parallel":
			cfg.MaxParallel = opts.maxParallel
		case "segment-duration":
			cfg.SegmentDuration = opts.segDur
		case "ffmpeg":
			cfg.FFmpegBin = opts.ffmpegBin
		case "delete-after-upload":
			cfg.DeleteAfterUpload = opts.deleteAfter
		}
	})

	return cfg, cfg.Validate()
}
