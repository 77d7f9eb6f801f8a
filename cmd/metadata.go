package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-dynpart/internal/device"
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

var (
	initSize         string
	initMetadataSize uint32
	initSlots        uint32
	initBlockDevice  string
	initGroups       []string
)

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Manage super partition metadata",
}

var metadataInitCmd = &cobra.Command{
	Use:   "init IMAGE",
	Short: "Write an empty partition table to an image or device",
	Long: `Format IMAGE as a super partition: write the geometry and an empty
table, optionally with partition groups, into every metadata slot.

IMAGE is created when --size is given and it does not exist yet.

Examples:
  dynpart metadata init super.img --size 8GiB --group main_a:4GiB --group main_b:4GiB
  dynpart metadata init /dev/block/by-name/super --slots 3`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMetadataInit(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(metadataCmd)
	metadataCmd.AddCommand(metadataInitCmd)

	metadataInitCmd.Flags().StringVar(&initSize, "size", "", "device size (8GiB, 4096MB); probed from IMAGE when omitted")
	metadataInitCmd.Flags().Uint32Var(&initMetadataSize, "metadata-size", 0, "maximum metadata size per slot (default from config)")
	metadataInitCmd.Flags().Uint32Var(&initSlots, "slots", 0, "number of metadata slots (default from config)")
	metadataInitCmd.Flags().StringVar(&initBlockDevice, "block-device", "", "block device name recorded in the table (default: super partition name)")
	metadataInitCmd.Flags().StringArrayVar(&initGroups, "group", nil, "partition group as name:size, repeatable")
}

type groupSpec struct {
	name string
	size uint64
}

func parseGroupSpecs(values []string) ([]groupSpec, error) {
	specs := make([]groupSpec, 0, len(values))
	for _, value := range values {
		name, size, ok := strings.Cut(value, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid group %q, expected name:size", value)
		}
		bytes, err := humanize.ParseBytes(size)
		if err != nil {
			return nil, fmt.Errorf("invalid size for group %s: %w", name, err)
		}
		specs = append(specs, groupSpec{name: name, size: bytes})
	}
	return specs, nil
}

func runMetadataInit(cmd *cobra.Command, image string) error {
	ctx := newAppContext(cmd)
	fs := afero.NewOsFs()

	groups, err := parseGroupSpecs(initGroups)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid group", err)
	}

	var size uint64
	if initSize != "" {
		if size, err = humanize.ParseBytes(initSize); err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "invalid size", err)
		}
		if err := ensureImage(fs, image, size); err != nil {
			return app.Wrap(err, app.ErrCodeDeviceAccess, "cannot create image")
		}
	} else if size, err = device.Size(image); err != nil {
		return app.Wrap(err, app.ErrCodeDeviceAccess, "cannot determine device size")
	}

	metadataSize := initMetadataSize
	if metadataSize == 0 {
		metadataSize = cfg.MetadataMaxSize
	}
	slots := initSlots
	if slots == 0 {
		slots = cfg.MetadataSlotCount
	}
	name := initBlockDevice
	if name == "" {
		name = cfg.SuperPartitionName
	}

	b, err := metadata.New(name, size, metadataSize, slots)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid geometry", err)
	}
	for _, g := range groups {
		if err := b.AddGroup(g.name, g.size); err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "invalid group", err)
		}
	}

	store := metadata.NewFileStore(fs, metadata.UpdateOptions{}, log)
	if err := store.Flash(image, b); err != nil {
		return app.Wrap(err, app.ErrCodeMetadataAccess, "failed to write metadata")
	}

	ctx.Log(fmt.Sprintf("Formatted %s: %s, %d slots, %s usable",
		filepath.Base(image), humanize.IBytes(size), slots, humanize.IBytes(b.AllocatableSpace())))
	return nil
}

// ensureImage creates a sparse image of the given size unless path exists
func ensureImage(fs afero.Fs, path string, size uint64) error {
	if _, err := fs.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(int64(size))
}
