package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"netguardd/ipc"
)

var applyCmd = &cobra.Command{
	Use:   "apply <policy-file>",
	Short: "Validate, compile, and apply a policy document",
	Args:  cobra.ExactArgs(1),
	RunE:  runApply,
}

var applyBytesCmd = &cobra.Command{
	Use:   "apply-bytes <policy-file>",
	Short: "Apply a policy document by sending its bytes over IPC rather than a path",
	Args:  cobra.ExactArgs(1),
	RunE:  runApplyBytes,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(applyBytesCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	abs, err := absPath(args[0])
	if err != nil {
		return err
	}
	r, err := call(map[string]any{"type": ipc.TypeApply, "policy_path": abs})
	if err != nil {
		printErrors(cmd, r)
		return err
	}
	printApplyResult(r)
	return nil
}

func runApplyBytes(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	r, err := call(map[string]any{"type": ipc.TypeApplyBytes, "policy": string(raw)})
	if err != nil {
		printErrors(cmd, r)
		return err
	}
	printApplyResult(r)
	return nil
}

func printApplyResult(r *ipc.Reply) {
	fmt.Printf("applied policy_version=%s filters_created=%d filters_removed=%d rules_skipped=%d total_rules=%d\n",
		r.PolicyVersion, r.FiltersCreated, r.FiltersRemoved, r.RulesSkipped, r.TotalRules)
	for _, ce := range r.CompilationErrors {
		fmt.Printf("  compile error: rule %s: %s\n", ce.RuleID, ce.Message)
	}
}
