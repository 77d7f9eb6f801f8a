package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

var finishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Mark snapshot writes of the pending update as finished",
	Long: `Tell the snapshot engine that all writes to the target slot are done.
This is a no-op unless Virtual A/B is enabled and an update is in progress.`,

	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newAppContext(cmd)
		ctl, err := newFactory().Controller()
		if err != nil {
			return err
		}
		if err := ctl.FinishUpdate(ctx); err != nil {
			return app.Wrap(err, app.ErrCodeMetadataAccess, "failed to finish update")
		}
		ctx.Log("Update finished")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(finishCmd)
}
