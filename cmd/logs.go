package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"netguardd/ipc"
)

var (
	getLogsTail         int
	getLogsSinceMinutes int
)

var getLogsCmd = &cobra.Command{
	Use:   "get-logs",
	Short: "Tail or time-filter the audit journal",
	Args:  cobra.NoArgs,
	RunE:  runGetLogs,
}

func init() {
	getLogsCmd.Flags().IntVar(&getLogsTail, "tail", 50, "number of most recent events to return")
	getLogsCmd.Flags().IntVar(&getLogsSinceMinutes, "since-minutes", 0, "return events from the last N minutes instead of tailing")
	rootCmd.AddCommand(getLogsCmd)
}

func runGetLogs(cmd *cobra.Command, args []string) error {
	req := map[string]any{"type": ipc.TypeGetLogs, "tail": getLogsTail}
	if getLogsSinceMinutes > 0 {
		req["since_minutes"] = getLogsSinceMinutes
	} else {
		req["since_minutes"] = nil
	}

	r, err := call(req)
	if err != nil {
		return err
	}

	if globalFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r.Logs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tSOURCE\tSTATUS\tERROR")
	for _, ev := range r.Logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ev.Ts.Format("2006-01-02T15:04:05Z07:00"), ev.Event, ev.Source, ev.Status, ev.ErrorCode)
	}
	return w.Flush()
}
