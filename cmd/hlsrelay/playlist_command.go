package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hls-relay/internal/relay"
)

func newPlaylistCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlist [url]",
		Short: "Poll a media playlist, download new .ts segments and upload them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, args, relay.DefaultPollInterval)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg, "playlist")
			if err != nil {
				return err
			}
			defer rt.Close()
			stop := rt.serveStatus("playlist")
			defer stop()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			discoverer := relay.NewDiscoverer(&http.Client{Timeout: cfg.FetchTimeout}, cfg.UserAgent, rt.log)
			runner := relay.NewPlaylistRunner(relay.PlaylistRunnerConfig{
				PlaylistURL:       cfg.SourceURL,
				Dir:               cfg.OutDir,
				Interval:          cfg.PollInterval,
				DeleteAfterUpload: cfg.DeleteAfterUpload,
			}, discoverer, rt.ledger, rt.uploader, relay.SystemClock(), rt.log, rt.metrics)

			rt.log.Info("polling playlist",
				slog.String("url", cfg.SourceURL),
				slog.String("out", cfg.OutDir),
				slog.Duration("interval", cfg.PollInterval))
			err = runner.Run(ctx)
			rt.log.Info("stopped")
			return exitErr(ctx, err)
		},
	}

	cmd.Flags().DurationVar(&opts.interval, "interval", relay.DefaultPollInterval, "Wait between playlist fetches (POLL_INTERVAL)")
	cmd.Flags().BoolVar(&opts.deleteAfter, "delete-after-upload", false, "Remove local segments once uploaded (DELETE_AFTER_UPLOAD)")
	return cmd
}

