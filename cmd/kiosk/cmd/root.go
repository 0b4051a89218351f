package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/exhibit-kiosk/internal/config"
	"github.com/oshokin/exhibit-kiosk/internal/service/kiosk"
	"github.com/oshokin/exhibit-kiosk/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// controlAddress overrides the control API listen address.
	controlAddress string
	// allowMultiple disables the single-instance check.
	allowMultiple bool

	// rootCmd represents the base command for running the kiosk daemon.
	rootCmd = &cobra.Command{
		Use:   "kiosk",
		Short: "Run the exhibit kiosk detection loop.",
		Long: `Runs the kiosk daemon that watches the camera for visitors.

Faces found on the device are sent to the recognition API at most once per
throttle interval, and the answer is spoken while the visitor stays in view.
A kiosk without a device identity waits for an onboarding QR code first.

The daemon starts Idle unless auto_start is set or an opening schedule fires.
Use kioskctl to start, suspend or inspect it through the control API.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return kiosk.Run(ctx, &kiosk.Options{
				ConfigPath:     configPath,
				ControlAddress: controlAddress,
				AllowMultiple:  allowMultiple,
			})
		},
	}
)

// Execute runs the kiosk CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVar(&controlAddress, "control-addr", "", "control API listen address, overrides config")
	rootCmd.Flags().BoolVar(&allowMultiple, "allow-multiple", false, "skip the single-instance check")

	err := rootCmd.Flags().MarkHidden("allow-multiple")
	if err != nil {
		panic(err)
	}
}
