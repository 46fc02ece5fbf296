// Command commsbench drives a comms instance at full rate and reports
// throughput, the way a group member would use it.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lcx/comms/config"
	"github.com/lcx/comms/log"
)

var opts = benchOptions{
	processName:   "commsbench",
	listen:        "127.0.0.1:50000",
	consulService: "comms",
	payloadSize:   96,
	batch:         128,
	duration:      5 * time.Second,
	drainTimeout:  30 * time.Second,
}

var (
	configDir string
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "commsbench",
	Short: "Submit packets through a comms instance and report throughput.",
	Long: `commsbench starts one member of a communication group, submits packets to every ` +
		`endpoint for the given duration while catching and releasing whatever arrives, and ` +
		`checks that every submitted packet completed.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadEnv(envFile); err != nil {
			return err
		}
		if configDir != "" {
			cm := config.NewConfigManager()
			defer cm.Close()
			cm.SetBasePath(configDir)
			if err := log.InitializeWithConfigManager(cm); err != nil {
				log.Warn().Err(err).Msg("logger config not loaded, using defaults")
			}
			opts.configManager = cm
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := run(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configDir, "config-dir", "", "directory holding comms.yaml and logger.yaml")
	f.StringVar(&envFile, "env-file", ".env", "environment file loaded before the configuration")
	f.StringVar(&opts.processName, "process-name", opts.processName, "process name used in logs")
	f.StringVar(&opts.self, "self", "", "endpoint name of this process (defaults to the process name)")
	f.StringVar(&opts.listen, "listen", opts.listen, "address the inbound service listens on")
	f.StringSliceVar(&opts.peers, "peer", nil, "group member as name=address, in index order; repeatable")
	f.StringVar(&opts.consulAddr, "consul", "", "consul agent address; resolves the group instead of --peer")
	f.StringVar(&opts.consulService, "consul-service", opts.consulService, "consul service the group registers under")
	f.IntVar(&opts.payloadSize, "payload-size", opts.payloadSize, "bytes per packet")
	f.IntVar(&opts.batch, "packets", opts.batch, "packets per submit call")
	f.DurationVar(&opts.duration, "duration", opts.duration, "how long to submit")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
}

func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
