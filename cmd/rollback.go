package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"netguardd/ipc"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Remove every filter installed by netguardd",
	Args:  cobra.NoArgs,
	RunE:  runRollback,
}

var revertLKGCmd = &cobra.Command{
	Use:   "revert-lkg",
	Short: "Re-apply the last-known-good policy",
	Args:  cobra.NoArgs,
	RunE:  runRevertLKG,
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Remove every filter and delete netguardd's provider/sublayer",
	Args:  cobra.NoArgs,
	RunE:  runTeardown,
}

var teardownForce bool

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(revertLKGCmd)
	teardownCmd.Flags().BoolVarP(&teardownForce, "force", "f", false, "skip the interactive confirmation")
	rootCmd.AddCommand(teardownCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	r, err := call(map[string]any{"type": ipc.TypeRollback})
	if err != nil {
		return err
	}
	fmt.Printf("rolled back filters_removed=%d\n", r.FiltersRemoved)
	return nil
}

func runRevertLKG(cmd *cobra.Command, args []string) error {
	r, err := call(map[string]any{"type": ipc.TypeRevertLKG})
	if err != nil {
		printErrors(cmd, r)
		return err
	}
	printApplyResult(r)
	return nil
}

// runTeardown asks for interactive confirmation before a teardown unless
// --force was given or stdin is not a terminal (a scripted invocation),
// mirroring the teacher's own SetRawMode/RestoreMode terminal-state
// discipline in utils.Console: check the terminal state explicitly rather
// than assuming one.
func runTeardown(cmd *cobra.Command, args []string) error {
	if !teardownForce && term.IsTerminal(int(os.Stdin.Fd())) {
		ok, err := confirm("This removes every filter netguardd has installed and deletes its provider/sublayer. Continue?")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("teardown aborted")
		}
	}

	r, err := call(map[string]any{"type": ipc.TypeTeardown})
	if err != nil {
		return err
	}
	fmt.Printf("torn down filters_removed=%d\n", r.FiltersRemoved)
	return nil
}

func confirm(prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve policy file path: %w", err)
	}
	return abs, nil
}
