// Package cli implements the linkpulse command line.
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/linkpulse/linkpulse/internal/daemon"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "linkpulse",
	Short: "Credit ledger, payment callbacks and backlink change alerts",
	Long: `linkpulse sells credits through LiqPay, WayForPay and a Monobank jar,
keeps an auditable ledger of every balance change, and watches domains for
new backlinks, notifying subscribers on Telegram.

Configuration is read from ~/.linkpulse/config.toml (or --config), with
secrets overridable through LINKPULSE_* environment variables or a .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default ~/.linkpulse/config.toml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openDaemon loads config and builds every component. Callers must Close it.
func openDaemon() (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}, nil)
	return daemon.New(cfg, log)
}

// quiet lowers log output for one-shot commands that print their own result.
func quiet(d *daemon.Daemon) {
	if d.Log.GetLevel() > logrus.WarnLevel {
		d.Log.SetLevel(logrus.WarnLevel)
	}
}
