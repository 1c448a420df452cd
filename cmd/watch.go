package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"netguardd/ipc"
)

var watchSetCmd = &cobra.Command{
	Use:   "watch-set [policy-file]",
	Short: "Set (or, with no argument, clear) the hot-reload watch path",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatchSet,
}

var watchStatusCmd = &cobra.Command{
	Use:   "watch-status",
	Short: "Show the hot-reload watcher's current state",
	Args:  cobra.NoArgs,
	RunE:  runWatchStatus,
}

func init() {
	rootCmd.AddCommand(watchSetCmd)
	rootCmd.AddCommand(watchStatusCmd)
}

func runWatchSet(cmd *cobra.Command, args []string) error {
	var path any
	if len(args) == 1 {
		abs, err := absPath(args[0])
		if err != nil {
			return err
		}
		path = abs
	}

	r, err := call(map[string]any{"type": ipc.TypeWatchSet, "path": path})
	if err != nil {
		return err
	}
	if path == nil {
		fmt.Println("watch cleared")
		return nil
	}
	fmt.Printf("watching %s\n", path)
	_ = r
	return nil
}

func runWatchStatus(cmd *cobra.Command, args []string) error {
	r, err := call(map[string]any{"type": ipc.TypeWatchStatus})
	if err != nil {
		return err
	}

	if globalFormat == "json" {
		fmt.Printf("{\"watching\":%t,\"path\":%q,\"apply_count\":%d,\"error_count\":%d,\"last_error\":%q}\n",
			r.Watching, r.WatchPath, r.ApplyCount, r.ErrorCount, r.LastError)
		return nil
	}

	fmt.Printf("watching:     %t\n", r.Watching)
	fmt.Printf("path:         %s\n", r.WatchPath)
	fmt.Printf("apply_count:  %d\n", r.ApplyCount)
	fmt.Printf("error_count:  %d\n", r.ErrorCount)
	if r.LastError != "" {
		fmt.Printf("last_error:   %s\n", r.LastError)
	}
	return nil
}
