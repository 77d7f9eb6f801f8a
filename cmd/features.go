package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/internal/features"
)

type featureReport struct {
	DynamicPartitions string `json:"dynamic_partitions" yaml:"dynamic_partitions"`
	VirtualAB         string `json:"virtual_ab" yaml:"virtual_ab"`
	Mode              string `json:"mode" yaml:"mode"`
}

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Show the dynamic partition and Virtual A/B feature flags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		props, err := features.LoadPropertyFiles(cfg.PropertyFiles...)
		if err != nil {
			return err
		}
		flags := features.Read(props, log)
		report := featureReport{
			DynamicPartitions: flags.DynamicPartitions.String(),
			VirtualAB:         flags.VirtualAB.String(),
			Mode:              cfg.ExecutionMode().String(),
		}
		return writeFields(cmd.OutOrStdout(), outputFormat, report, []field{
			{"dynamic partitions", report.DynamicPartitions},
			{"virtual A/B", report.VirtualAB},
			{"mode", report.Mode},
		})
	},
}

func init() {
	rootCmd.AddCommand(featuresCmd)
}
