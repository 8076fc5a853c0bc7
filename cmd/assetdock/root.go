package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/franksops/assetdock/config"
	"github.com/franksops/assetdock/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	verbose    bool
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "assetdock",
		Short: "Provision model weights and dependencies into an image layer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: console or json")

	root.AddCommand(
		newProvisionCommand(a),
		newFetchCommand(a),
		newResolveCommand(a),
		newStatusCommand(a),
	)
	return root
}

// setup builds the config (defaults, file, environment, flags) and the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		if err := cfg.LoadFile(a.configPath); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	if err := applyPipelineFlags(cmd.Flags(), cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{Format: cfg.LogFormat, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// Flag names shared by provision and fetch.
const (
	flagStorageRoot    = "storage-root"
	flagStateDir       = "state-dir"
	flagConcurrency    = "concurrency"
	flagRetries        = "retries"
	flagTimeout        = "timeout"
	flagResolveTimeout = "resolve-timeout"
	flagMaxRate        = "max-rate"
	flagVerify         = "verify"
	flagSkipDownloads  = "skip-downloads"
	flagFailMissing    = "fail-on-missing"
	flagMetricsFile    = "metrics-file"
	flagProgress       = "progress"
	flagTUI            = "tui"
)

func addPipelineFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String(flagStorageRoot, def.StorageRoot, "Root directory for asset categories")
	fs.String(flagStateDir, def.StateDir, "Directory for the state database")
	fs.IntP(flagConcurrency, "j", def.Concurrency, "Concurrent transfers")
	fs.Int(flagRetries, def.Retries, "Retries per transfer attempt")
	fs.Duration(flagTimeout, def.Timeout, "Timeout per transfer attempt")
	fs.Duration(flagResolveTimeout, def.ResolveTimeout, "Timeout per marketplace filename probe")
	fs.Int64(flagMaxRate, 0, "Total bandwidth cap in bytes per second (0 is unlimited)")
	fs.Bool(flagVerify, false, "Re-hash recorded assets before trusting them")
	fs.Bool(flagSkipDownloads, false, "Skip every asset download")
	fs.Bool(flagFailMissing, false, "Treat any failed asset as fatal")
	fs.String(flagMetricsFile, "", "Write Prometheus metrics to this textfile")
	fs.Bool(flagProgress, false, "Show progress bars")
	fs.Bool(flagTUI, false, "Show the interactive dashboard")
}

// applyPipelineFlags copies explicitly set flags over cfg. Flags not
// registered on the command are ignored.
func applyPipelineFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	set := func(name string, fn func()) {
		if f := fs.Lookup(name); f != nil && f.Changed && err == nil {
			fn()
		}
	}
	set(flagStorageRoot, func() { cfg.StorageRoot, err = fs.GetString(flagStorageRoot) })
	set(flagStateDir, func() { cfg.StateDir, err = fs.GetString(flagStateDir) })
	set(flagConcurrency, func() { cfg.Concurrency, err = fs.GetInt(flagConcurrency) })
	set(flagRetries, func() { cfg.Retries, err = fs.GetInt(flagRetries) })
	set(flagTimeout, func() {
		var d time.Duration
		d, err = fs.GetDuration(flagTimeout)
		cfg.Timeout = d
	})
	set(flagResolveTimeout, func() {
		var d time.Duration
		d, err = fs.GetDuration(flagResolveTimeout)
		cfg.ResolveTimeout = d
	})
	set(flagMaxRate, func() { cfg.MaxBytesPerSec, err = fs.GetInt64(flagMaxRate) })
	set(flagVerify, func() { cfg.Verify, err = fs.GetBool(flagVerify) })
	set(flagSkipDownloads, func() { cfg.SkipDownloads, err = fs.GetBool(flagSkipDownloads) })
	set(flagFailMissing, func() { cfg.FailOnMissingAssets, err = fs.GetBool(flagFailMissing) })
	set(flagMetricsFile, func() { cfg.MetricsFile, err = fs.GetString(flagMetricsFile) })
	return err
}

type displayMode int

const (
	displayLog displayMode = iota
	displayBars
	displayTUI
)

func displayFrom(fs *pflag.FlagSet) displayMode {
	if on, _ := fs.GetBool(flagTUI); on {
		return displayTUI
	}
	if on, _ := fs.GetBool(flagProgress); on {
		return displayBars
	}
	return displayLog
}
