package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/alert"
)

// AlertsOptions holds flags for the alerts command.
type AlertsOptions struct {
	*RootOptions
	Warehouse int64
	Server    bool
	All       bool
}

// AlertsResult is the JSON payload of the alerts command.
type AlertsResult struct {
	Warehouse int64               `json:"warehouse,omitempty"`
	Alerts    []alert.Alert       `json:"alerts,omitempty"`
	Server    []alert.ServerAlert `json:"server,omitempty"`
	Counts    alert.Counts        `json:"counts"`
}

// NewAlertsCommand creates the alerts command.
func NewAlertsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AlertsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List low-stock alerts",
		Long: `List low-stock alerts for a warehouse, derived from its current records:
critical at or below the minimum, warning within 5 units above it.

With --server, print the server's precomputed list across all
warehouses instead.

Examples:
  stockline alerts --warehouse 1
  stockline alerts --warehouse 1 --all
  stockline alerts --warehouse 1 --server`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlerts(opts, cmd)
		},
	}

	cmd.Flags().Int64VarP(&opts.Warehouse, "warehouse", "w", 0, "warehouse to evaluate (defaults to the configured one)")
	cmd.Flags().BoolVar(&opts.Server, "server", false, "show the server's cross-warehouse alert list")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include records that are ok")
	return cmd
}

func runAlerts(opts *AlertsOptions, cmd *cobra.Command) error {
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

	if opts.Server {
		if err := s.RefreshAlerts(cmd.Context()); err != nil {
			return out.Fail("failed to fetch server alerts", err)
		}
		result := AlertsResult{Server: s.AlertSummary()}
		for _, a := range result.Server {
			switch a.Status {
			case alert.Critical:
				result.Counts.Critical++
			case alert.Warning:
				result.Counts.Warning++
			default:
				result.Counts.Ok++
			}
		}
		return out.Success(result, func(w io.Writer) {
			writeServerAlerts(w, result)
		})
	}

	all := s.Alerts()
	result := AlertsResult{Warehouse: wh, Counts: alert.Count(all)}
	for _, a := range all {
		if opts.All || a.Status != alert.Ok {
			result.Alerts = append(result.Alerts, a)
		}
	}

	snap := s.Snapshot()
	return out.Success(result, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tITEM\tQTY\tMIN\tSTATUS")
		for _, a := range result.Alerts {
			name := ""
			if it, ok := snap.Item(a.ItemID); ok {
				name = it.Name
			}
			r, _ := snap.Get(a.ItemID, a.WarehouseID)
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", a.ItemID, name, r.Quantity, r.MinQuantity, a.Status)
		}
		tw.Flush()
		fmt.Fprintf(w, "\nWarehouse %d: %d critical, %d warning, %d ok\n", wh, result.Counts.Critical, result.Counts.Warning, result.Counts.Ok)
	})
}

func writeServerAlerts(w io.Writer, r AlertsResult) {
	if len(r.Server) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tWAREHOUSE\tQTY\tMIN\tSTATUS")
	for _, a := range r.Server {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", a.Item, a.WarehouseName, a.Quantity, a.MinQuantity, a.Status)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d critical, %d warning\n", r.Counts.Critical, r.Counts.Warning)
}
