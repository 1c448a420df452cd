package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"netguardd/ipc"
)

var getLKGIncludeBody bool

var getLKGCmd = &cobra.Command{
	Use:   "get-lkg",
	Short: "Show last-known-good policy metadata",
	Args:  cobra.NoArgs,
	RunE:  runGetLKG,
}

func init() {
	getLKGCmd.Flags().BoolVar(&getLKGIncludeBody, "include-body", false, "also print the raw policy document")
	rootCmd.AddCommand(getLKGCmd)
}

func runGetLKG(cmd *cobra.Command, args []string) error {
	r, err := call(map[string]any{"type": ipc.TypeGetLKG, "include_body": getLKGIncludeBody})
	if err != nil {
		return err
	}

	if globalFormat == "json" {
		fmt.Printf("{\"exists\":%t,\"is_corrupt\":%t,\"version_saved\":%q,\"rule_count\":%d}\n",
			r.LKGExists, r.LKGCorrupt, r.LKGVersion, r.LKGRuleCount)
	} else {
		fmt.Printf("exists:        %t\n", r.LKGExists)
		fmt.Printf("is_corrupt:    %t\n", r.LKGCorrupt)
		if r.LKGExists && !r.LKGCorrupt {
			fmt.Printf("version_saved: %s\n", r.LKGVersion)
			fmt.Printf("rule_count:    %d\n", r.LKGRuleCount)
			if r.LKGSavedAt != nil {
				fmt.Printf("saved_at:      %s\n", r.LKGSavedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
		}
	}

	if getLKGIncludeBody && r.LKGPolicy != "" {
		fmt.Println(r.LKGPolicy)
	}
	return nil
}
