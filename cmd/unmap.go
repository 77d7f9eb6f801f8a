package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

var unmapCmd = &cobra.Command{
	Use:   "unmap NAME...",
	Short: "Unmap logical partitions",
	Long: `Remove the device-mapper devices (and snapshot mappings on Virtual A/B
devices) of the named partitions. Names carry their slot suffix.

Example:
  dynpart unmap system_b vendor_b`,

	Args: cobra.MinimumNArgs(1),
	RunE: runUnmap,
}

func init() {
	rootCmd.AddCommand(unmapCmd)
}

func runUnmap(cmd *cobra.Command, names []string) error {
	ctx := newAppContext(cmd)
	ctl, err := newFactory().Controller()
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if err := ctl.UnmapPartition(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		ctx.Log(fmt.Sprintf("Unmapped %s", name))
	}
	if len(errs) > 0 {
		return app.Wrap(errors.Join(errs...), app.ErrCodeDeviceAccess, "failed to unmap partitions")
	}
	return nil
}
