// hybridsched routes numeric and circuit workloads across the acceleration
// backends available on the host.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	serveCmd := newServeCmd()

	rootCmd := &cobra.Command{
		Use:   "hybridsched",
		Short: "Hybrid execution scheduler",
		Long:  `hybridsched selects an execution backend for each problem, shards large payloads across workers and serves the scheduler over HTTP.`,
		// Running without a subcommand starts the server.
		RunE:          serveCmd.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd, newProbeCmd(), newSelectCmd())
	return rootCmd
}
