// Package cmd implements the netguardctl command-line client: one
// subcommand per netguardd IPC request type, each dialing the control
// socket, sending one framed JSON request, and rendering the framed reply.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netguardd/ipc"
)

// Version information set at build time.
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

// Global flags shared by every subcommand.
var (
	globalSocket  string
	globalTimeout time.Duration
	globalFormat  string
)

// rootCmd is the base command for netguardctl.
var rootCmd = &cobra.Command{
	Use:   "netguardctl",
	Short: "Administrative client for netguardd",
	Long: `netguardctl is the administrative CLI for netguardd, the host policy
filter daemon. Every subcommand dials netguardd's local control socket and
issues exactly one request.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM, the same
// signal-aware shape the daemon's own lifecycle uses.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalSocket, "socket", "/run/netguardd/control.sock", "netguardd control socket path")
	rootCmd.PersistentFlags().DurationVar(&globalTimeout, "timeout", 10*time.Second, "dial and round-trip timeout")
	rootCmd.PersistentFlags().StringVar(&globalFormat, "format", "table", "output format for list-like replies: table or json")
}

// dial opens one client connection using the global --socket/--timeout
// flags. maxFrameBytes mirrors the daemon's default; a real deployment would
// read this from the same config file, but the client has no privileged
// access to it, so it uses the documented default.
func dial() (*ipc.Client, error) {
	const defaultMaxFrameBytes = 16 << 20
	return ipc.Dial(globalSocket, defaultMaxFrameBytes, globalTimeout)
}

// call dials, issues req, closes the connection, and returns the reply. On a
// reply with ok:false it still returns the reply (callers render the error
// fields) alongside a non-nil error so command RunE can set a non-zero exit
// code.
func call(req map[string]any) (*ipc.Reply, error) {
	c, err := dial()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	r, err := c.Call(req)
	if err != nil {
		return nil, err
	}
	if !r.OK {
		return r, fmt.Errorf("%s: %s", r.ErrorCode, r.ErrorMessage)
	}
	return r, nil
}

func printErrors(cmd *cobra.Command, r *ipc.Reply) {
	if r == nil || len(r.Errors) == 0 {
		return
	}
	for _, e := range r.Errors {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", e.Path, e.Message)
	}
}
