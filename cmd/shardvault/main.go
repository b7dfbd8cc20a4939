package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"shardvault/internal/config"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	backend    string
	ledgerKind string
	redundancy string
	keyMode    string
	compress   string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "shardvault",
		Short:         "adaptive, encrypted, erasure-coded object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return setupLogging(cfg.LogLevel)
		},
	}
)

// loadConfig reads the config file, when one is given, and applies every
// flag the user set on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	var opts []config.ConfigOption
	if flags.Changed("data-dir") {
		opts = append(opts, config.WithDataDir(dataDir))
	}
	if flags.Changed("backend") {
		opts = append(opts, config.WithBackend(backend))
	}
	if flags.Changed("ledger") {
		opts = append(opts, config.WithLedger(ledgerKind))
	}
	if flags.Changed("redundancy") {
		opts = append(opts, config.WithRedundancy(redundancy))
	}
	if flags.Changed("key-mode") {
		opts = append(opts, config.WithKeyMode(keyMode))
	}
	if flags.Changed("compression") {
		opts = append(opts, config.WithCompression(compress))
	}
	if flags.Changed("log-level") {
		opts = append(opts, config.WithLogLevel(logLevel))
	}
	opts = append(opts, commandOptions(cmd)...)

	if configPath == "" {
		return config.NewConfig(opts...), nil
	}
	return config.Load(configPath, opts...)
}

// setupLogging installs charmbracelet/log as the slog handler. Logs go to
// stderr so that payloads written to stdout stay clean.
func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    lvl <= log.DebugLevel,
	})

	slog.SetDefault(slog.New(handler))
	return nil
}

func init() {
	defaults := config.Default()

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&dataDir, "data-dir", "d", defaults.DataDir, "directory for the store and ledger")
	flags.StringVar(&backend, "backend", defaults.Backend, "kv backend: memory, sqlite, badger or files")
	flags.StringVar(&ledgerKind, "ledger", defaults.Ledger, "credit ledger: memory, sqlite or unlimited")
	flags.StringVar(&redundancy, "redundancy", defaults.Redundancy, "redundancy policy: none or rs:<data>:<parity>")
	flags.StringVar(&keyMode, "key-mode", defaults.KeyMode, "object key mode: convergent or random")
	flags.StringVar(&compress, "compression", defaults.Compression, "chunk compression: none, zstd or lz4")
	flags.StringVar(&logLevel, "log-level", defaults.LogLevel, "log level")

	serveCmd.Flags().StringVar(&listen, "listen", defaults.Listen, "HTTP listen address")
	serveCmd.Flags().DurationVar(&probeInterval, "probe-interval", defaults.ProbeInterval, "provider probe interval, 0 disables probing")
	getCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the payload to a file instead of stdout")
	manifestsCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of manifests to list")

	rootCmd.AddCommand(serveCmd, putCmd, getCmd, statCmd, deleteCmd, manifestsCmd, sweepCmd, repairCmd, profilesCmd, fundCmd, balancesCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("shardvault exited with error", "error", err)
		os.Exit(1)
	}
}
