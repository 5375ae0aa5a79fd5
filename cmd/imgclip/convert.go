package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/imgclip/internal/capture"
	"go.klb.dev/imgclip/internal/clip"
	"go.klb.dev/imgclip/internal/sink"
)

var errOverwrite = errors.New("output would replace the input file, pick another name with -o")

func newConvertCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "convert <dib-file>",
		Short: "Convert a raw DIB dump to PNG or BMP",
		Long: `Reads a raw clipboard DIB block (info header, color table, payload) from a
file, or "-" for stdin, and writes it in the chosen container. A .bmp file is
accepted as input as well.

The output goes to --output, "-" for stdout. Without --output the input name
is reused with the container's extension.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, v, args[0])
		},
	}

	cmd.Flags().StringP("output", "o", "", `output file, "-" for stdout`)
	addEncodeFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runConvert(cmd *cobra.Command, v *viper.Viper, in string) error {
	setupLogging(v)

	opts, err := encodeOptions(v)
	if err != nil {
		return err
	}
	block, err := readDIB(in)
	if err != nil {
		return err
	}

	mem := clip.NewMemory()
	mem.Set(clip.FormatDIB, block)
	c, err := capture.New(mem, opts).Capture()
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	if c == nil {
		return errors.New("no bitmap decoded")
	}
	capture.LogCapture("converted", c)

	out := v.GetString("output")
	if out == "" {
		if in == "-" {
			out = "-"
		} else {
			out = strings.TrimSuffix(in, filepath.Ext(in)) + c.Ext
		}
	}
	if out == "-" {
		return sink.NewWriter("stdout", cmd.OutOrStdout()).Store(context.Background(), c)
	}
	if in != "-" && sameFile(in, out) {
		return fmt.Errorf("%s: %w", out, errOverwrite)
	}
	if filepath.Ext(out) != c.Ext {
		slog.Warn("output extension does not match container", "output", out, "container", c.MIME)
	}
	return sink.WriteFile(out, c.Data)
}
