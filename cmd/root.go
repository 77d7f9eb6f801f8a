package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/internal/config"
	"github.com/deploymenttheory/go-dynpart/internal/logging"
	"github.com/deploymenttheory/go-dynpart/internal/types"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
	"github.com/deploymenttheory/go-dynpart/pkg/services"
)

var (
	// Global flags
	configFile   string
	verbose      bool
	quiet        bool
	recovery     bool
	outputFormat string

	v   = config.New()
	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dynpart",
	Short: "Dynamic partition and Virtual A/B update tooling",
	Long: `dynpart prepares the inactive slot of an A/B device for an update.

It rewrites the super partition metadata for the target slot, maps and
unmaps logical partitions through device-mapper, and drives the snapshot
engine on Virtual A/B devices.

Commands:
  prepare         Prepare the target slot for a package
  device          Resolve (and map) the block device of a partition
  unmap           Unmap logical partitions
  finish          Mark snapshot writes as finished
  cleanup-update  Wait for the snapshot merge of a booted update
  list            Show the metadata stored in a slot
  features        Show the device's feature flags
  metadata init   Write an empty metadata table to an image or device
  config          Show the effective configuration`,
	Version:           "0.1.0-dev",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default searches ./dynpart-config.yaml, $HOME/.dynpart, /etc/dynpart)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().BoolVar(&recovery, "recovery", false, "run in recovery mode")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(v, configFile)
	if err != nil {
		return err
	}
	if recovery {
		cfg.Mode = types.ModeRecovery.String()
	}

	level := cfg.LogLevel
	switch {
	case quiet:
		level = "error"
	case verbose:
		level = "debug"
	}
	log, err = logging.New(level, cfg.LogFormat, cmd.ErrOrStderr())
	return err
}

// newAppContext builds the application context for a command run
func newAppContext(cmd *cobra.Command) *app.Context {
	ctx := app.NewContext()
	ctx.Context = cmd.Context()
	ctx.OutputFormat = outputFormat
	ctx.Verbose = verbose
	ctx.Quiet = quiet
	ctx.Logger = log
	return ctx
}

// newFactory wires the production services. No snapshot engine is linked
// into this binary, so Virtual A/B devices are rejected by the factory.
func newFactory() *services.ServiceFactory {
	return services.NewServiceFactory(services.Options{
		Config: cfg,
		Logger: log,
	})
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}
