package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/internal/types"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

var (
	deviceSlot        string
	deviceCurrent     string
	deviceUnmapOnExit bool
)

type deviceResult struct {
	Partition string `json:"partition" yaml:"partition"`
	Slot      string `json:"slot" yaml:"slot"`
	Path      string `json:"path" yaml:"path"`
}

var deviceCmd = &cobra.Command{
	Use:   "device NAME",
	Short: "Resolve the block device of a partition",
	Long: `Print the block device path of a partition in a slot, mapping it
through device-mapper when it is a logical partition.

A partition of the target slot is mapped writable. Mappings stay in place
after the command exits unless --unmap-on-exit is set.

Examples:
  dynpart device system --slot b --current a
  dynpart device boot --slot a --current a -o json`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevice(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd)

	deviceCmd.Flags().StringVar(&deviceSlot, "slot", "", "slot of the partition")
	deviceCmd.Flags().StringVar(&deviceCurrent, "current", "", "currently running slot")
	deviceCmd.Flags().BoolVar(&deviceUnmapOnExit, "unmap-on-exit", false, "unmap anything mapped by this command before exiting")
	_ = deviceCmd.MarkFlagRequired("slot")
	_ = deviceCmd.MarkFlagRequired("current")
}

func runDevice(cmd *cobra.Command, name string) error {
	ctx := newAppContext(cmd)

	slot, err := types.ParseSlot(deviceSlot)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid slot", err)
	}
	current, err := types.ParseSlot(deviceCurrent)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid current slot", err)
	}

	factory := newFactory()
	if deviceUnmapOnExit {
		defer factory.Shutdown(ctx)
	}
	ctl, err := factory.Controller()
	if err != nil {
		return err
	}

	path, err := ctl.GetPartitionDevice(ctx, name, slot, current)
	if err != nil {
		return app.Wrap(err, app.ErrCodeDeviceAccess, fmt.Sprintf("cannot resolve %s in slot %s", name, slot))
	}

	result := deviceResult{Partition: name, Slot: slot.String(), Path: path}
	if ctx.OutputFormat == "table" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	}
	return writeFields(cmd.OutOrStdout(), ctx.OutputFormat, result, nil)
}
