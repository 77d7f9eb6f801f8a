package cmd

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
	"github.com/deploymenttheory/go-dynpart/internal/types"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
	"github.com/deploymenttheory/go-dynpart/pkg/app/inspect"
)

var (
	listSlot   string
	listDevice string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the partition table stored in a metadata slot",
	Long: `Read one metadata slot of the super partition and list its groups,
partitions and free space.

Examples:
  # Slot b of the device's own super partition
  dynpart list --slot b

  # A super image on disk
  dynpart list --device super.img --slot a -o yaml`,

	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listSlot, "slot", "a", "metadata slot to read")
	listCmd.Flags().StringVar(&listDevice, "device", "", "super partition device or image (default: the device's super partition)")
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := newAppContext(cmd)

	request := &inspect.Request{Device: listDevice, Slot: listSlot}
	var reader interfaces.MetadataReader
	if listDevice != "" {
		reader = metadata.NewFileStore(afero.NewOsFs(), metadata.UpdateOptions{}, log)
	} else {
		slot, err := types.ParseSlot(listSlot)
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "invalid slot", err)
		}
		factory := newFactory()
		ctl, err := factory.Controller()
		if err != nil {
			return err
		}
		if request.Device, err = ctl.SuperDevice(slot); err != nil {
			return app.Wrap(err, app.ErrCodeDeviceAccess, "cannot locate super partition")
		}
		if reader, err = factory.MetadataStore(); err != nil {
			return err
		}
	}

	response, err := inspect.Handle(ctx, reader, request)
	if err != nil {
		return err
	}
	return inspect.FormatOutput(cmd.OutOrStdout(), response, ctx.OutputFormat)
}
