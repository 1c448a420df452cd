package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"netguardd/ipc"
)

var validateCmd = &cobra.Command{
	Use:   "validate <policy-file>",
	Short: "Validate a policy document without applying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	r, err := call(map[string]any{"type": ipc.TypeValidate, "policy": string(raw)})
	if err != nil {
		printErrors(cmd, r)
		return err
	}
	fmt.Println("policy is valid")
	return nil
}
