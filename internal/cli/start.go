package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/conductor/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Conductor daemon in the foreground",
	Long: `Start the Conductor daemon in the foreground.
The daemon keeps the cache resident, runs scheduled cache maintenance,
reloads strategy documents as they change and serves /metrics and /health
when metrics are enabled. It stops on SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	d, err := daemon.New(a.cfg, a.service, a.log.Component("cli"))
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Conductor daemon running (PID file: %s)\n", d.PIDFile())
	if addr := d.Addr(); addr != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Metrics: http://%s/metrics\n", addr)
	}

	return d.Wait(cmd.Context())
}

// pidFilePath resolves the PID file from the loaded configuration
func pidFilePath() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return daemon.PIDFilePath(cfg.DataDir), nil
}
