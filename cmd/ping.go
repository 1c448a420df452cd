package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"netguardd/ipc"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that netguardd is reachable",
	Args:  cobra.NoArgs,
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	r, err := call(map[string]any{"type": ipc.TypePing})
	if err != nil {
		return err
	}
	fmt.Printf("ok version=%s journal_failed_count=%d\n", r.Version, r.JournalFailed)
	return nil
}
