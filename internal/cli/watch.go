package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/alert"
	"github.com/roach88/stockline/internal/channel"
	"github.com/roach88/stockline/internal/config"
	"github.com/roach88/stockline/internal/inventory"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Warehouse int64
	For       time.Duration
}

// WatchLine is one streamed change. In JSON mode each line is one object.
type WatchLine struct {
	Type   string            `json:"type"` // "record", "removed" or "state"
	Record *inventory.Record `json:"record,omitempty"`
	Status *alert.Status     `json:"status,omitempty"`
	State  channel.State     `json:"state,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a warehouse live over the push channel",
		Long: `Load a warehouse, connect to the server's push channel and print every
change to the warehouse's records as authoritative events arrive.

The view is resynced whenever the connection comes back after a loss.
The command runs until interrupted, until --for elapses, or until the
channel gives up reconnecting.

Exit codes:
  0 - Interrupted or --for elapsed
  2 - Command error, or the channel gave up reconnecting

Examples:
  stockline watch --warehouse 1
  stockline watch --warehouse 1 --for 10m --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().Int64VarP(&opts.Warehouse, "warehouse", "w", 0, "warehouse to watch (defaults to the configured one)")
	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	wh, err := warehouseOf(opts.Warehouse, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.For > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.For)
		defer cancel()
	}

	ch := newChannel(cfg, opts.Dialer)
	out := opts.formatter(cmd)
	s, closeFn, err := opts.openSession(ctx, cfg, wh, ch)
	if err != nil {
		return out.Fail("failed to load warehouse", err)
	}
	defer closeFn()

	p := &watchPrinter{w: cmd.OutOrStdout(), json: opts.Format == "json", prev: s.Snapshot()}
	if !p.json {
		fmt.Fprintf(p.w, "Watching warehouse %d (%d records)\n", wh, len(p.prev.Records(wh)))
	}
	unsub := s.Store().Subscribe(p.snapshot)
	defer unsub()
	ch.OnState(p.state)

	if err := ch.Connect(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}

	select {
	case <-ctx.Done():
		ch.Disconnect()
		slog.Debug("watch stopped", "reason", context.Cause(ctx))
		return nil
	case <-ch.Done():
		if ctx.Err() != nil {
			return nil
		}
		return NewExitError(ExitCommandError, "push channel gave up reconnecting")
	}
}

func newChannel(cfg *config.Config, dialer channel.Dialer) *channel.Channel {
	token := cfg.Server.Token
	return channel.New(channel.Config{
		URL:         cfg.Channel.URL,
		Token:       func() string { return token },
		BaseDelay:   cfg.Channel.BaseDelay,
		MaxDelay:    cfg.Channel.MaxDelay,
		MaxAttempts: cfg.Channel.MaxAttempts,
		Dialer:      dialer,
	})
}

// watchPrinter streams record changes and channel transitions.
// Snapshots arrive on the mutation loop, states on the channel's goroutine.
type watchPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
	prev *inventory.Snapshot
}

func (p *watchPrinter) snapshot(next *inventory.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.prev
	p.prev = next
	wh := next.ActiveWarehouse

	for _, r := range next.Records(wh) {
		if old, ok := prev.Get(r.ItemID, r.WarehouseID); ok && old == r {
			continue
		}
		st := alert.Classify(r.Quantity, r.MinQuantity)
		p.emit(WatchLine{Type: "record", Record: &r, Status: &st})
	}
	for _, r := range prev.Records(wh) {
		if _, ok := next.Get(r.ItemID, r.WarehouseID); !ok {
			p.emit(WatchLine{Type: "removed", Record: &r})
		}
	}
}

func (p *watchPrinter) state(sc channel.StateChange) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reason := sc.Reason
	if sc.Err != nil {
		reason = sc.Err.Error()
	}
	p.emit(WatchLine{Type: "state", State: sc.State, Reason: reason})
}

// emit writes one line. Caller holds p.mu.
func (p *watchPrinter) emit(l WatchLine) {
	if p.json {
		_ = json.NewEncoder(p.w).Encode(l)
		return
	}
	switch l.Type {
	case "record":
		fmt.Fprintf(p.w, "item %d: qty=%d min=%d %s\n", l.Record.ItemID, l.Record.Quantity, l.Record.MinQuantity, l.Status)
	case "removed":
		fmt.Fprintf(p.w, "item %d: removed\n", l.Record.ItemID)
	case "state":
		if l.Reason != "" {
			fmt.Fprintf(p.w, "channel %s: %s\n", l.State, l.Reason)
		} else {
			fmt.Fprintf(p.w, "channel %s\n", l.State)
		}
	}
}
