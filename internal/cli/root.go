package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/channel"
	"github.com/roach88/stockline/internal/config"
	"github.com/roach88/stockline/internal/journal"
	"github.com/roach88/stockline/internal/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	EnvFile    string

	// NewBackend builds the server-of-record client. Defaults to an
	// api.Client for the configured server.
	NewBackend func(cfg *config.Config) session.Backend

	// Dialer opens push channel connections. Defaults to a websocket dialer.
	Dialer channel.Dialer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the stockline CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stockline",
		Short: "Stockline - multi-warehouse inventory client",
		Long: `Stockline keeps a client-side view of one warehouse's inventory in step
with the server of record: optimistic transfers, push-channel
reconciliation, low-stock alerts and a local event journal.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "path to a .env file (ignored when missing)")

	cmd.AddCommand(NewViewCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewTransferCommand(opts))
	cmd.AddCommand(NewAlertsCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig reads the configuration and installs the default logger.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: o.ConfigFile, EnvFile: o.EnvFile})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	slog.SetDefault(newLogger(cfg.Log, o.Verbose, cmd.ErrOrStderr()))
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func (o *RootOptions) backend(cfg *config.Config) session.Backend {
	if o.NewBackend != nil {
		return o.NewBackend(cfg)
	}
	return newAPIClient(cfg)
}

func newAPIClient(cfg *config.Config) *api.Client {
	opts := []api.Option{api.WithHTTPClient(&http.Client{Timeout: cfg.Server.Timeout})}
	if cfg.Server.Token != "" {
		opts = append(opts, api.WithToken(cfg.Server.Token))
	}
	return api.New(cfg.Server.URL, opts...)
}

// newLogger builds the slog logger for lc. verbose forces debug.
func newLogger(lc config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// warehouseOf resolves the --warehouse flag against the configured default.
func warehouseOf(flag int64, cfg *config.Config) (int64, error) {
	wh := flag
	if wh == 0 {
		wh = cfg.Warehouse
	}
	if wh <= 0 {
		return 0, NewExitError(ExitCommandError, "a warehouse is required: pass --warehouse or set warehouse in the config")
	}
	return wh, nil
}

// openJournal opens the configured journal; nil when none is configured.
func openJournal(cfg *config.Config) (*journal.Journal, error) {
	if cfg.Journal.Path == "" {
		return nil, nil
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

// openSession opens a session on warehouseID with the configured journal.
// The returned close function releases both.
func (o *RootOptions) openSession(ctx context.Context, cfg *config.Config, warehouseID int64, feed session.Feed) (*session.Session, func(), error) {
	j, err := openJournal(cfg)
	if err != nil {
		return nil, nil, err
	}

	s, err := session.Open(ctx, o.backend(cfg), warehouseID, session.Options{
		Journal:    j,
		Feed:       feed,
		EchoWindow: cfg.Sync.EchoWindow,
		DedupSize:  cfg.Sync.DedupSize,
	})
	if err != nil {
		if j != nil {
			_ = j.Close()
		}
		return nil, nil, err
	}

	return s, func() {
		s.Close()
		if j != nil {
			_ = j.Close()
		}
	}, nil
}
