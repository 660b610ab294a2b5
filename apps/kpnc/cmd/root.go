package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/apps/kpnc/internal/config"
	"github.com/slush-dev/kpnc/ipc"
	"github.com/spf13/cobra"
)

var (
	sessionDir string
	configPath string
	verbose    bool
	useYAML    bool

	cfg    *config.Config
	logger *slog.Logger
)

func defaultSessionDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kpnc")
}

var rootCmd = &cobra.Command{
	Use:          "kpnc",
	Short:        "KPNC push notification agent",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadSession(sessionDir, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = cfg.Logger.NewLogger(os.Stderr, verbose)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", defaultSessionDir(), "Directory for preferences, config and the receiver registry")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <session-dir>/config.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useYAML, "yaml", false, "Print output in YAML format instead of text")

	// Allow env override
	if envDir := os.Getenv("KPNC_SESSION_DIR"); envDir != "" {
		sessionDir = envDir
	}
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// components is the agent wired from the loaded config.
type components struct {
	store    kpnc.Store
	client   *kpnc.Client
	updater  *kpnc.TokenUpdater
	relay    *kpnc.Relay
	agent    *kpnc.Agent
	actions  *kpnc.ActionHandler
	registry *ipc.Registry
	logger   *slog.Logger
}

// openStore opens the preferences backend selected by c.
func openStore(ctx context.Context, c *config.Config, dir string, logger *slog.Logger) (kpnc.Store, error) {
	switch c.Store.Backend {
	case config.BackendRedis:
		r := c.Store.Redis
		store, err := kpnc.DialRedisStore(ctx, r.Addr, r.Password, r.DB, r.Prefix, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendFile, "":
		return kpnc.NewFileStore(dir, logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}

// newComponents wires the agent from c.
func newComponents(ctx context.Context, c *config.Config, dir string, logger *slog.Logger) (*components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := openStore(ctx, c, dir, logger)
	if err != nil {
		return nil, err
	}

	client := kpnc.NewClient(
		kpnc.WithBaseURL(c.Server.BaseURL),
		kpnc.WithHTTPClient(&http.Client{Timeout: c.Server.HTTPTimeout}),
		kpnc.WithLogger(logger),
	)
	updater := kpnc.NewTokenUpdater(store, client, kpnc.WithUpdaterLogger(logger))
	relay := kpnc.NewRelay(kpnc.WithRelayLogger(logger))

	return &components{
		store:    store,
		client:   client,
		updater:  updater,
		relay:    relay,
		agent:    kpnc.NewAgent(store, updater, relay, logger),
		actions:  kpnc.NewActionHandler(store, client, kpnc.WithActionTimeout(c.Actions.Timeout), kpnc.WithActionLogger(logger)),
		registry: ipc.NewRegistry(c.ReceiversDir(dir), logger),
		logger:   logger,
	}, nil
}

// mustComponents wires the agent or exits with a helpful message.
func mustComponents(ctx context.Context) *components {
	comps, err := newComponents(ctx, cfg, sessionDir, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	return comps
}

// agentHubURL is the URL of the hub served by 'kpnc run' for listen.
func agentHubURL(listen string) string {
	return "http://" + listen + ipc.AgentHubPath
}
