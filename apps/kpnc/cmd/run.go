package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/apps/kpnc/internal/config"
	"github.com/slush-dev/kpnc/ipc"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent hub and relay reply notifications to receivers (Ctrl+C to stop)",
	Long: `Run the agent. Push ingress (NewToken, MessageReceived) and external
actions (GetInfo, StartWatchingPost) are served as a SignalR hub on the
configured listen address. Reply notifications are delivered to every
process registered in the receiver directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		comps := mustComponents(ctx)
		ln, err := net.Listen("tcp", cfg.Hub.Listen)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.Hub.Listen, err)
		}
		return serveAgent(ctx, comps, cfg, ln, os.Stderr)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// serveAgent serves the agent hub on ln and forwards relayed replies to
// receivers until ctx is done.
func serveAgent(ctx context.Context, comps *components, c *config.Config, ln net.Listener, w io.Writer) error {
	hub, err := ipc.NewServer(ctx, comps.agent, comps.actions,
		ipc.WithServerLogger(comps.logger),
		ipc.WithMessageWait(c.Hub.MessageWait),
	)
	if err != nil {
		ln.Close()
		return err
	}

	deliverer := ipc.NewSignalRDeliverer(
		ipc.WithDelivererLogger(comps.logger),
		ipc.WithConnectTimeout(c.Receivers.ConnectTimeout),
	)
	notifier := kpnc.NewNotifier(comps.registry, deliverer,
		kpnc.WithDeliveryTimeout(c.Receivers.DeliveryTimeout),
		kpnc.WithNotifierLogger(comps.logger),
	)

	if _, err := comps.agent.Start(ctx); err != nil {
		comps.logger.Warn("Could not push stored token", "error", kpnc.LogValue(err))
	}

	srv := &http.Server{Handler: hub.Handler()}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go notifier.Run(ctx, comps.relay)

	fmt.Fprintf(w, "Agent hub listening on %s\n", agentHubURL(ln.Addr().String()))
	fmt.Fprintf(w, "Receiver registry: %s\n", comps.registry.Dir())

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
	fmt.Fprintln(w, "Agent stopped.")
	return serveErr
}
