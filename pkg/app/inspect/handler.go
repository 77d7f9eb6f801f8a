package inspect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
	"github.com/deploymenttheory/go-dynpart/internal/types"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

// Validate validates a listing request
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Device) == "" {
		return app.NewError(app.ErrCodeInvalidInput, "super partition device is required", nil)
	}
	if _, err := types.ParseSlot(r.Slot); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid slot", err)
	}
	return nil
}

// Handle reads and summarizes the metadata of one slot
func Handle(ctx *app.Context, reader interfaces.MetadataReader, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	slot, _ := types.ParseSlot(req.Slot)

	ctx.Log(fmt.Sprintf("Reading metadata slot %s from %s", slot, req.Device))
	b, err := reader.Load(req.Device, slot)
	if err != nil {
		if errors.Is(err, metadata.ErrNoMetadata) {
			return nil, app.NewError(app.ErrCodeMetadataAccess, fmt.Sprintf("slot %s has no metadata", slot), err)
		}
		return nil, app.Wrap(err, app.ErrCodeMetadataAccess, "cannot read metadata")
	}

	resp := &Response{
		Device:      req.Device,
		Slot:        slot.String(),
		Allocatable: b.AllocatableSpace(),
		Used:        b.UsedSpace(),
	}
	resp.Free = resp.Allocatable - min(resp.Used, resp.Allocatable)

	for _, bd := range b.BlockDevices() {
		resp.BlockDevices = append(resp.BlockDevices, BlockDeviceInfo{
			Name:               bd.Name,
			Size:               bd.Size,
			FirstLogicalSector: bd.FirstLogicalSector,
		})
	}
	for _, g := range b.Groups() {
		gi := GroupInfo{Name: g.Name(), MaxSize: g.MaximumSize()}
		for _, p := range b.ListPartitionsInGroup(g.Name()) {
			gi.Partitions = append(gi.Partitions, PartitionInfo{
				Name:       p.Name(),
				Size:       p.Size(),
				Extents:    len(p.Extents()),
				Attributes: attributeNames(p.Attributes()),
			})
		}
		resp.Groups = append(resp.Groups, gi)
	}
	return resp, nil
}

func attributeNames(attrs uint32) []string {
	var names []string
	if attrs&types.PartitionAttrReadOnly != 0 {
		names = append(names, "readonly")
	}
	if attrs&types.PartitionAttrSlotSuffixed != 0 {
		names = append(names, "slot-suffixed")
	}
	if attrs&types.PartitionAttrUpdated != 0 {
		names = append(names, "updated")
	}
	return names
}
