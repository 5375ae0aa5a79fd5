package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/imgclip/internal/capture"
	"go.klb.dev/imgclip/internal/clip"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Capture every clipboard image until interrupted",
		Long: `Watches the system clipboard and stores each new image in the configured
sinks. A failed capture is logged and watching continues.

Sinks: --out-dir (default: current directory), --stdout, --hub. Any
combination may be set; each capture goes to all of them. With --copy-path
the stored file's path replaces the image on the clipboard.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runWatch(v) },
	}

	cmd.Flags().Bool("initial", false, "capture the current clipboard image before waiting for changes")
	addEncodeFlags(cmd)
	addSinkFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runWatch(v *viper.Viper) error {
	setupLogging(v)

	opts, err := encodeOptions(v)
	if err != nil {
		return err
	}
	sinks, err := buildSinks(v)
	if err != nil {
		return err
	}

	backend := clip.New()
	defer backend.Close()

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	slog.Info("imgclip starting",
		"version", Version,
		"backend", backend.Name(),
		"format", opts.Format,
		"sinks", names,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := capture.New(backend, opts, sinks...)
	if v.GetBool("initial") {
		if _, err := p.Once(ctx); err != nil {
			slog.Error("initial capture failed", "err", err)
		}
	}
	return p.Run(ctx)
}
