package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"hls-relay/internal/platform/logger"
	"hls-relay/internal/relay"
)

func newRemuxCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remux [url]",
		Short: "Remux a stream with ffmpeg into fixed-length mp4 files and upload them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args, relay.DefaultStreamInterval)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg, "remux")
			if err != nil {
				return err
			}
			defer rt.Close()
			stop := rt.serveStatus("remux")
			defer stop()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ffmpegLog := logger.NewProcessLogger("ffmpeg", cfg.LogLevel, os.Stderr)
			remux := relay.NewFFmpegRemuxer(cfg.FFmpegBin, cfg.SourceURL, cfg.OutDir, cfg.SegmentDuration,
				ffmpegLog.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true}))
			remux.UserAgent = cfg.UserAgent

			clock := relay.SystemClock()
			runner := relay.NewStreamRunner(relay.StreamRunnerConfig{
				Dir:         cfg.OutDir,
				Interval:    cfg.PollInterval,
				Grace:       cfg.FinalSweepDelay,
				MaxParallel: cfg.MaxParallel,
			}, rt.ledger, rt.uploader, relay.NewStabilityDetector(cfg.StabilityWindow, clock), remux, clock, rt.log, rt.metrics)

			rt.log.Info("remuxing stream",
				slog.String("url", cfg.SourceURL),
				slog.String("out", cfg.OutDir),
				slog.Duration("segment_duration", cfg.SegmentDuration),
				slog.Int("max_parallel", cfg.MaxParallel))
			err = runner.Run(ctx)
			rt.log.Info("stopped")
			return exitErr(ctx, err)
		},
	}

	cmd.Flags().DurationVar(&opts.interval, "interval", relay.DefaultStreamInterval, "Wait between directory sweeps (POLL_INTERVAL)")
	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", relay.DefaultMaxParallel, "Concurrent uploads (MAX_PARALLEL)")
	cmd.Flags().DurationVar(&opts.segDur, "segment-duration", 0, "Length of each remuxed file (SEG_DUR)")
	cmd.Flags().StringVar(&opts.ffmpegBin, "ffmpeg", "", "ffmpeg binary (FFMPEG_BIN)")
	return cmd
}
