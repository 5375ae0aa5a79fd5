// imgclip: capture clipboard bitmaps as PNG or BMP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/imgclip/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imgclip",
		Short: "Capture clipboard bitmaps as PNG or BMP",
		Long: `imgclip reads bitmaps that applications place on the system clipboard,
interprets their device-independent layout, and writes them out as PNG or as
a lossless .bmp repackaging, to a directory, stdout, or a clipboard hub.

Run "imgclip watch" to capture every clipboard change, or "imgclip grab" for
a single capture. "imgclip receive" stores captures other hosts publish
with --hub. "imgclip convert" and "imgclip inspect" work on raw DIB
files without touching the clipboard.

Config file search order (first found wins):
  /etc/imgclip/imgclip.toml
  $HOME/.config/imgclip/imgclip.toml
  path supplied via --config

All flags can be set via IMGCLIP_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newWatchCmd(),
		newGrabCmd(),
		newReceiveCmd(),
		newConvertCmd(),
		newInspectCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "imgclip %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(os.Stderr, format, level)
}
