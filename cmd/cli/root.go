package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"runwarden/cmd/cli/runcmd"
	"runwarden/cmd/cli/watchcmd"
)

var RootCmd = &cobra.Command{
	Use:   "rwctl",
	Short: "RunWarden - liveness and recovery for batch analysis runs",
	Long: `RunWarden tracks long running video analysis runs. Workers heartbeat while they process,
the control plane pauses runs whose heartbeats stop, fails runs that exceed the maximum duration
and turns crash output into structured failure reports.

At a minimum, you need to start the server and at least 1 worker.`,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(runcmd.Command)
	RootCmd.AddCommand(migrateCmd)
	RootCmd.AddCommand(watchcmd.Command)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
