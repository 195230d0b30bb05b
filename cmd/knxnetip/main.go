// knxnetip - KNXnet/IP client, MQTT bridge and bus tools
//
// This is the main entry point. The run command is the long-running
// gateway: it holds a KNXnet/IP session and bridges it to MQTT, the bus
// recorder, InfluxDB and the HTTP API. The other commands are one-shot bus
// tools that share the same connection flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so every command shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1) //nolint:gocritic // cancel is a no-op at exit
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "knxnetip",
		Short: "KNXnet/IP client and MQTT bridge",
		Long: `knxnetip talks to a KNX installation through a KNXnet/IP tunneling
gateway or a routing multicast group.

Use "knxnetip run" for the gateway daemon, or one of the bus tools to
monitor, write, read and inspect devices from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	g.register(root)

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newMonitorCmd(g))
	root.AddCommand(newWriteCmd(g))
	root.AddCommand(newReadCmd(g))
	root.AddCommand(newDeviceCmd(g))
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newPcapCmd())
	root.AddCommand(newTokenCmd(g))
	root.AddCommand(newDBCmd(g))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "knxnetip %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
