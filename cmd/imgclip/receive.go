package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/imgclip/internal/inbox"
	"go.klb.dev/imgclip/internal/ipc"
	"go.klb.dev/imgclip/internal/tlsconf"
)

func newReceiveCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Store captures that other hosts publish",
		Long: `Listens for the captures "imgclip watch --hub <addr>" publishes from other
machines and stores them in the configured sinks. The local hub socket is
served as well, unless --no-ipc is set.

Sinks: --out-dir (default: current directory), --stdout.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runReceive(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("addr", "0.0.0.0:8752", "TCP listen address")
	f.String("token", "", "shared secret (empty = no auth, no encryption)")
	f.Bool("tls", false, "serve TLS with a certificate keyed to --token")
	f.String("clipboard", "", "only accept this hub clipboard namespace")
	f.Bool("no-ipc", false, "do not listen on the local hub socket")
	addStoreFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runReceive(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	if ctx == nil {
		ctx = context.Background()
	}

	sinks, err := buildSinks(v)
	if err != nil {
		return err
	}
	token := v.GetString("token")
	srv, err := inbox.New(inbox.Config{Token: token, Clipboard: v.GetString("clipboard")}, sinks...)
	if err != nil {
		return err
	}

	addr := v.GetString("addr")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if v.GetBool("tls") {
		pass := token
		if pass == "" {
			pass = tlsconf.DefaultPassphrase
		}
		cfg, err := tlsconf.ServerConfig(pass)
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, cfg)
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	slog.Info("imgclip receiving",
		"version", Version,
		"addr", ln.Addr(),
		"encrypted", token != "",
		"tls", v.GetBool("tls"),
		"sinks", names,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !v.GetBool("no-ipc") {
		ipcLn, err := ipc.Listen()
		if err != nil {
			slog.Warn("IPC socket unavailable", "err", err)
		} else {
			slog.Info("IPC socket listening", "path", ipc.SocketPath())
			go func() {
				if err := srv.Serve(ctx, ipcLn, true); err != nil {
					slog.Error("IPC socket failed", "err", err)
				}
			}()
		}
	}
	return srv.Serve(ctx, ln, false)
}
