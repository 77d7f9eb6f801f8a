package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/pkg/app"
	"github.com/deploymenttheory/go-dynpart/pkg/app/prepare"
)

var (
	prepareSource     string
	prepareTarget     string
	prepareVerifyOnly bool
)

var prepareCmd = &cobra.Command{
	Use:   "prepare MANIFEST",
	Short: "Prepare the target slot for an update package",
	Long: `Rewrite the super partition metadata of the target slot so it holds
the partitions and groups described by the package manifest.

On Virtual A/B devices the snapshot engine is asked to create snapshots
instead. When there is not enough space for them the command fails with
NO_SPACE and reports how much more is required.

Examples:
  # Prepare slot b from a booted slot a
  dynpart prepare payload.yaml --source a --target b

  # Validate the slots and package without writing metadata
  dynpart prepare payload.yaml --source a --target b --verify-only`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrepare(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(prepareCmd)

	prepareCmd.Flags().StringVar(&prepareSource, "source", "", "source (running) slot")
	prepareCmd.Flags().StringVar(&prepareTarget, "target", "", "target slot to prepare")
	prepareCmd.Flags().BoolVar(&prepareVerifyOnly, "verify-only", false, "check the package without writing metadata")
	_ = prepareCmd.MarkFlagRequired("source")
	_ = prepareCmd.MarkFlagRequired("target")
}

func runPrepare(cmd *cobra.Command, manifestPath string) error {
	ctx := newAppContext(cmd)
	factory := newFactory()
	defer factory.Shutdown(ctx)

	ctl, err := factory.Controller()
	if err != nil {
		return err
	}

	request := &prepare.Request{
		ManifestPath: manifestPath,
		Slots:        app.SlotPair{Source: prepareSource, Target: prepareTarget},
		VerifyOnly:   prepareVerifyOnly,
	}

	response, err := prepare.Handle(ctx, ctl, request)
	if err != nil {
		return err
	}
	return prepare.FormatOutput(cmd.OutOrStdout(), response, ctx.OutputFormat)
}
