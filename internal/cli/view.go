package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/alert"
	"github.com/roach88/stockline/internal/session"
)

// ViewOptions holds flags for the view command.
type ViewOptions struct {
	*RootOptions
	Warehouse int64
}

// ViewResult is the JSON payload of the view command.
type ViewResult struct {
	Warehouse int64              `json:"warehouse"`
	Stale     bool               `json:"stale"`
	Items     []session.ItemView `json:"items"`
	Counts    alert.Counts       `json:"counts"`
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show a warehouse's inventory",
		Long: `Load a warehouse's inventory from the server of record and print every
item with its quantity, minimum and alert status.

With a journal configured, the last journaled view is shown when the
server is unreachable, marked as stale.

Examples:
  stockline view --warehouse 1
  stockline view --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(opts, cmd)
		},
	}

	cmd.Flags().Int64VarP(&opts.Warehouse, "warehouse", "w", 0, "warehouse to view (defaults to the configured one)")
	return cmd
}

func runView(opts *ViewOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	wh, err := warehouseOf(opts.Warehouse, cfg)
	if err != nil {
		return err
	}

	out := opts.formatter(cmd)
	s, closeFn, err := opts.openSession(cmd.Context(), cfg, wh, nil)
	if err != nil {
		return out.Fail("failed to load warehouse", err)
	}
	defer closeFn()

	result := ViewResult{
		Warehouse: wh,
		Stale:     s.Stale(),
		Items:     s.Items(),
		Counts:    alert.Count(s.Alerts()),
	}
	return out.Success(result, func(w io.Writer) {
		writeView(w, result)
	})
}

func writeView(w io.Writer, r ViewResult) {
	fmt.Fprintf(w, "Warehouse %d", r.Warehouse)
	if r.Stale {
		fmt.Fprint(w, " (stale: server unreachable)")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tITEM\tQTY\tMIN\tPOSITION\tSTATUS")
	for _, v := range r.Items {
		if v.Record == nil {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\tnot stocked\n", v.Item.ID, v.Item.Name)
			continue
		}
		pos := v.Record.Position
		if pos == "" {
			pos = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\n", v.Item.ID, v.Item.Name, v.Record.Quantity, v.Record.MinQuantity, pos, v.Status)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d critical, %d warning, %d ok\n", r.Counts.Critical, r.Counts.Warning, r.Counts.Ok)
}
