package main

import (
	"fmt"
	"image/png"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/imgclip/internal/capture"
	"go.klb.dev/imgclip/internal/dib"
	"go.klb.dev/imgclip/internal/logging"
	"go.klb.dev/imgclip/internal/sink"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and IMGCLIP_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → IMGCLIP_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("imgclip")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/imgclip/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/imgclip", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("IMGCLIP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info, debug when interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addEncodeFlags adds the output container flags.
func addEncodeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("format", "png", "output container: png|bmp")
	f.Bool("orient", false, "write bottom-up bitmaps top row first in PNG output")
	f.String("png-compression", "default", "PNG compression: default|none|speed|best")
}

// addStoreFlags adds the local destination flags.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("out-dir", "", "directory to write captures to (default: current directory when no other sink is set)")
	f.String("prefix", "clip", "file name prefix in --out-dir")
	f.Bool("stdout", false, "write captures to stdout")
}

// addSinkFlags adds the capture destination flags.
func addSinkFlags(cmd *cobra.Command) {
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.String("hub", "", `clipboard hub address (host:port), or "ipc" for the local hub socket only`)
	f.String("hub-token", "", "hub shared secret (empty = no auth, no encryption)")
	f.Bool("hub-tls", false, "wrap the hub TCP connection in TLS pinned to the hub-token key")
	f.String("clipboard", "", "hub clipboard namespace")
	f.String("source", defaultSource(), "name for this host in hub peer lists")
	f.Bool("no-ipc", false, "never try the local hub socket")
	f.Bool("copy-path", false, "replace the clipboard image with the path of the stored file")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}

// encodeOptions reads the encode flags.
func encodeOptions(v *viper.Viper) (capture.Options, error) {
	format, err := capture.ParseFormat(strings.ToLower(v.GetString("format")))
	if err != nil {
		return capture.Options{}, err
	}
	level, err := parseCompression(v.GetString("png-compression"))
	if err != nil {
		return capture.Options{}, err
	}
	return capture.Options{
		Format:       format,
		PNG:          dib.PNGOptions{Orient: v.GetBool("orient"), Compression: level},
		CopyLocation: v.GetBool("copy-path"),
	}, nil
}

func parseCompression(s string) (png.CompressionLevel, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "speed", "fast":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	}
	return 0, fmt.Errorf("unknown png compression %q", s)
}

// buildSinks returns the sinks the flags ask for. With none set, captures go
// to the current directory.
func buildSinks(v *viper.Viper) ([]capture.Sink, error) {
	var sinks []capture.Sink

	if v.GetBool("stdout") {
		sinks = append(sinks, sink.Stdout())
	}

	if addr := v.GetString("hub"); addr != "" {
		cfg := sink.HubConfig{
			Addr:      addr,
			Token:     v.GetString("hub-token"),
			Source:    v.GetString("source"),
			Clipboard: v.GetString("clipboard"),
			TLS:       v.GetBool("hub-tls"),
			NoIPC:     v.GetBool("no-ipc"),
		}
		if addr == "ipc" {
			cfg.Addr, cfg.NoIPC = "", false
		}
		h, err := sink.NewHub(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, h)
	}

	dir := v.GetString("out-dir")
	if dir == "" && len(sinks) == 0 {
		dir = "."
	}
	if dir != "" {
		d, err := sink.NewDir(dir, v.GetString("prefix"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	return sinks, nil
}
