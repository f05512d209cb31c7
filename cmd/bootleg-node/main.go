// Command bootleg-node is a small chat host: `serve` accepts native and
// remote clients and echoes chat messages back to everyone, `connect` joins a
// server and sends periodic pings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "bootleg-node",
		Short:         "bootleg networking demo host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	var name string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Listen for native and remote clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, "server", name)
		},
	}
	connect := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a server and send chat pings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, "client", name)
		},
	}
	connect.Flags().StringVarP(&name, "name", "n", "", "Name sent with chat messages (defaults to app_name)")

	root.AddCommand(serve, connect)
	return root
}
