package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/imgclip/internal/capture"
	"go.klb.dev/imgclip/internal/clip"
)

var errNoImage = errors.New("clipboard holds no image")

func newGrabCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "grab",
		Short: "Capture the current clipboard image once",
		Long: `Captures the image currently on the clipboard and stores it in the
configured sinks. Exits non-zero when the clipboard holds no image.

With --wait, an empty clipboard is watched until an image arrives or the
duration passes.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runGrab(cmd.Context(), v) },
	}

	cmd.Flags().Duration("wait", 0, "wait this long for an image when the clipboard has none")
	addEncodeFlags(cmd)
	addSinkFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runGrab(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	if ctx == nil {
		ctx = context.Background()
	}

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
	p := capture.New(backend, opts, sinks...)

	c, err := p.Once(ctx)
	if err != nil {
		return err
	}
	if c != nil {
		return nil
	}

	wait := v.GetDuration("wait")
	if wait <= 0 {
		return errNoImage
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s", errNoImage, wait.Round(time.Millisecond))
		case <-backend.Watch():
		}
		c, err := p.Once(ctx)
		if err != nil {
			return err
		}
		if c != nil {
			return nil
		}
	}
}
