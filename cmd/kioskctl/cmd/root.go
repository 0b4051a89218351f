package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/exhibit-kiosk/internal/config"
	"github.com/oshokin/exhibit-kiosk/internal/service/ctl"
	"github.com/oshokin/exhibit-kiosk/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// serverAddress overrides the daemon control address.
	serverAddress string

	// rootCmd groups the control subcommands.
	rootCmd = &cobra.Command{
		Use:   "kioskctl",
		Short: "Control a running kiosk daemon.",
		Long: `Sends control calls to the kiosk daemon over its gRPC control API.

The daemon address is read from the configuration file unless --server is set.`,
		SilenceUsage: true,
	}
)

// newActionCommand builds a subcommand that performs a single action.
func newActionCommand(action ctl.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return ctl.Run(ctx, &ctl.Options{
				ConfigPath:    configPath,
				ServerAddress: serverAddress,
				Action:        action,
				Output:        cmd.OutOrStdout(),
			})
		},
	}
}

// Execute runs the kioskctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "s", "", "daemon control address, overrides config")

	rootCmd.AddCommand(
		newActionCommand(ctl.ActionStart, "Leave Idle and begin watching for visitors."),
		newActionCommand(ctl.ActionSuspend, "Stop playback, release the camera and go Idle."),
		newActionCommand(ctl.ActionStatus, "Print the current detection state."),
	)
}
