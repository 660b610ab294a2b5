package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/ipc"
	"github.com/spf13/cobra"
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Register as a reply receiver and print notifications (Ctrl+C to stop)",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		listen, _ := cmd.Flags().GetString("listen")
		if name == "" {
			name = fmt.Sprintf("cli-%d", os.Getpid())
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		comps := mustComponents(ctx)
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", listen, err)
		}
		return serveReceiver(ctx, comps.registry, name, ln, os.Stdout, useYAML, comps.logger)
	},
}

func init() {
	receiverCmd.Flags().String("name", "", "Receiver name in the registry (default: cli-<pid>)")
	receiverCmd.Flags().String("listen", "127.0.0.1:0", "Address to serve the receiver hub on")
	rootCmd.AddCommand(receiverCmd)
}

// serveReceiver serves a receiver hub on ln and registers it under name until
// ctx is done. Every notification is printed to w.
func serveReceiver(ctx context.Context, registry *ipc.Registry, name string, ln net.Listener, w io.Writer, asYAML bool, logger *slog.Logger) error {
	var mu sync.Mutex
	onReplies := func(urls []string) bool {
		mu.Lock()
		defer mu.Unlock()
		printReplies(w, urls, time.Now(), asYAML)
		return true
	}

	handler, err := ipc.NewReceiverHandler(ctx, onReplies, logger)
	if err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	hubURL := "http://" + ln.Addr().String() + ipc.ReceiverHubPath
	target := kpnc.ReceiverTarget{
		Name:    name,
		HubURL:  hubURL,
		Actions: []string{kpnc.ActionNewRepliesReceived},
		PID:     os.Getpid(),
	}
	if err := registry.Register(target); err != nil {
		srv.Close()
		return err
	}
	defer func() {
		if err := registry.Unregister(name); err != nil {
			logger.Warn("Failed to unregister receiver", "name", name, "error", err)
		}
	}()
	if !asYAML {
		fmt.Fprintf(os.Stderr, "Receiver %s listening on %s\n", name, hubURL)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	return serveErr
}
