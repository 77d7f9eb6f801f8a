package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/internal/types"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-update",
	Short: "Wait for the snapshot merge of a booted update",
	Long: `Run the cleanup action of the previous update. On Virtual A/B devices
this waits for the snapshot merge to complete, bounded by merge_timeout.`,

	Args: cobra.NoArgs,
	RunE: runCleanup,
}

type cleanupResult struct {
	Result string `json:"result" yaml:"result"`
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := newAppContext(cmd)
	if !ctx.Quiet {
		ctx.SetProgress(func(message string, percent int) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\r%s %3d%%", message, percent)
		})
	}

	ctl, err := newFactory().Controller()
	if err != nil {
		return err
	}

	result := ctl.CleanupSuccessfulUpdate(ctx, func(percent int) {
		ctx.Progress("Merging", percent)
	})
	if ctx.ProgressCallback != nil {
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	if err := writeFields(cmd.OutOrStdout(), ctx.OutputFormat, cleanupResult{Result: result.String()},
		[]field{{"result", result.String()}}); err != nil {
		return err
	}
	if result != types.CleanupSuccess {
		return app.NewError(app.ErrCodeDeviceAccess, fmt.Sprintf("cleanup ended with %s", result), nil)
	}
	return nil
}
