package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/portward/internal/agent"
	"firestige.xyz/portward/internal/log"
)

var startPIDFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the redirect agent",
	Long: `
Start the portward redirect agent on the configured capture device.

Examples:
  portward start                  # built-in defaults: loopback, 9875 -> 9876
  portward start -c config.yml    # explicit configuration

Exercise the redirect with a listener on the rewrite port and netcat:
  portward listen
  echo "testing port redirect" | nc -u localhost 9875

SIGHUP re-reads the configuration file and hot-reloads the logging settings;
capture and redirect changes require a restart.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if err := log.Init(cfg.Log); err != nil {
			return err
		}

		if err := agent.WritePIDFile(startPIDFile); err != nil {
			return err
		}
		defer func() {
			if err := agent.RemovePIDFile(startPIDFile); err != nil {
				slog.Error("PID file cleanup failed", "error", err)
			}
		}()

		a, err := agent.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go reloadOnHUP(hup)

		return a.Run(ctx)
	},
}

// reloadOnHUP re-reads the configuration on each SIGHUP and re-initializes
// logging. Only the log section is hot-reloadable.
func reloadOnHUP(hup <-chan os.Signal) {
	for range hup {
		slog.Info("received reload signal")

		cfg, err := loadConfig()
		if err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		if err := log.Init(cfg.Log); err != nil {
			slog.Error("logging reload failed", "error", err)
			continue
		}
		slog.Info("logging configuration reloaded",
			"level", cfg.Log.Level,
			"format", cfg.Log.Format,
		)
	}
}

func init() {
	startCmd.Flags().StringVar(&startPIDFile, "pid-file", "", "write the agent PID to this file")
	rootCmd.AddCommand(startCmd)
}
