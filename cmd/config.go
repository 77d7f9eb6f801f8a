package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		source := v.ConfigFileUsed()
		if source == "" {
			source = "(defaults)"
		}
		return writeFields(cmd.OutOrStdout(), outputFormat, cfg, []field{
			{"config file", source},
			{"mode", cfg.Mode},
			{"property files", strings.Join(cfg.PropertyFiles, ", ")},
			{"misc device", cfg.MiscDevice},
			{"device dir", cfg.DeviceDir},
			{"super partition", cfg.SuperPartitionName},
			{"mapper dir", cfg.MapperDir},
			{"dmsetup", cfg.DmsetupPath},
			{"metadata max size", cfg.MetadataMaxSize},
			{"metadata slots", cfg.MetadataSlotCount},
			{"merge poll interval", cfg.MergePollInterval},
			{"merge timeout", cfg.MergeTimeout},
			{"log level", cfg.LogLevel},
			{"log format", cfg.LogFormat},
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
