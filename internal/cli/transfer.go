package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/inventory"
)

// TransferOptions holds flags for the transfer command.
type TransferOptions struct {
	*RootOptions
	Item     int64
	From     int64
	To       int64
	Quantity int
}

// TransferOutput is the JSON payload of the transfer command.
type TransferOutput struct {
	Intent      inventory.Intent  `json:"intent"`
	RequestID   string            `json:"request_id,omitempty"`
	Source      *inventory.Record `json:"source,omitempty"`
	Destination *inventory.Record `json:"destination,omitempty"`
	Resynced    bool              `json:"resynced"`
}

// NewTransferCommand creates the transfer command.
func NewTransferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move stock between warehouses",
		Long: `Move a quantity of one item from a source warehouse to a destination.

The source warehouse is loaded first; a quantity above what it holds is
refused without contacting the server.

Exit codes:
  0 - Transfer confirmed
  1 - Transfer refused (validation or server rejection)
  2 - Command error (config, unreachable server)

Examples:
  stockline transfer --item 7 --from 1 --to 2 --qty 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Item, "item", 0, "stock item id (required)")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "source warehouse id (required)")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "destination warehouse id (required)")
	cmd.Flags().IntVar(&opts.Quantity, "qty", 0, "quantity to move (required)")
	for _, name := range []string{"item", "from", "to", "qty"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runTransfer(opts *TransferOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if opts.From <= 0 {
		return NewExitError(ExitCommandError, "--from must be a warehouse id")
	}

	out := opts.formatter(cmd)
	s, closeFn, err := opts.openSession(cmd.Context(), cfg, opts.From, nil)
	if err != nil {
		return out.Fail("failed to load source warehouse", err)
	}
	defer closeFn()

	intent := inventory.Intent{ItemID: opts.Item, From: opts.From, To: opts.To, Quantity: opts.Quantity}
	res, err := s.Transfer(cmd.Context(), intent)
	if err != nil {
		return out.Fail("transfer failed", err)
	}

	result := TransferOutput{
		Intent:      res.Intent,
		RequestID:   res.RequestID,
		Source:      res.Source,
		Destination: res.Destination,
		Resynced:    res.Resynced,
	}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Transferred %s\n", intent)
		if result.Source != nil {
			fmt.Fprintf(w, "  warehouse %d: %d left\n", intent.From, result.Source.Quantity)
		}
		if result.Destination != nil {
			fmt.Fprintf(w, "  warehouse %d: %d now\n", intent.To, result.Destination.Quantity)
		}
		if result.Resynced {
			fmt.Fprintln(w, "  (confirmed by a full resync)")
		}
	})
}
