package prepare

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-dynpart/internal/controller"
	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

// Handle processes a preparation request
func Handle(ctx *app.Context, p Preparer, req *Request) (*Response, error) {
	start := time.Now()

	// 1. Validate request
	if err := req.Validate(); err != nil {
		return nil, err
	}
	source, target, _ := req.Slots.Parse()

	// 2. Load manifest
	ctx.Progress("Reading manifest...", 10)
	m, err := manifest.Load(req.ManifestPath)
	if err != nil {
		return nil, app.NewError(app.ErrCodeInvalidInput, "cannot read manifest", err)
	}
	ctx.Logger.WithFields(logrus.Fields{
		"manifest":   req.ManifestPath,
		"partitions": len(m.Partitions),
		"groups":     len(m.DynamicPartitionMetadata.Groups),
	}).Debug("manifest loaded")

	// 3. Prepare target slot
	ctx.Progress("Preparing target slot...", 30)
	required, err := p.PreparePartitionsForUpdate(ctx, source, target, m, !req.VerifyOnly)
	if err != nil {
		return nil, convertError(err, required)
	}

	resp := &Response{
		Source:            source.String(),
		Target:            target.String(),
		DynamicPartitions: p.GetDynamicPartitionsFeatureFlag().String(),
		VirtualAB:         p.GetVirtualAbFeatureFlag().String(),
		DynamicTarget:     m.IsDynamic(),
		SnapshotEnabled:   m.DynamicPartitionMetadata.SnapshotEnabled,
		Updated:           !req.VerifyOnly && m.IsDynamic() && p.GetDynamicPartitionsFeatureFlag().IsEnabled(),
		Groups:            groupResults(m),
	}
	resp.Duration = time.Since(start)

	ctx.Progress("Complete", 100)
	ctx.Log(fmt.Sprintf("Prepared slot %s in %v", resp.Target, resp.Duration))
	return resp, nil
}

func convertError(err error, required uint64) error {
	switch {
	case errors.Is(err, controller.ErrSameSlot), errors.Is(err, controller.ErrMissingPartition),
		errors.Is(err, controller.ErrIncrementalUpdate):
		return app.NewError(app.ErrCodeInvalidInput, "package cannot be applied", err)
	case required > 0:
		return app.NewError(app.ErrCodeNoSpace,
			fmt.Sprintf("insufficient space for snapshots, %s more required", humanize.IBytes(required)), err)
	case errors.Is(err, controller.ErrGroupsTooLarge):
		return app.NewError(app.ErrCodeNoSpace, "partition groups do not fit the super partition", err)
	default:
		return app.Wrap(err, app.ErrCodeMetadataAccess, "failed to prepare partitions")
	}
}

func groupResults(m *manifest.Manifest) []GroupResult {
	sizes := m.NewPartitionSizes()
	groups := make([]GroupResult, 0, len(m.DynamicPartitionMetadata.Groups))
	for _, g := range m.DynamicPartitionMetadata.Groups {
		gr := GroupResult{Name: g.Name, Size: uint64(g.Size)}
		for _, name := range g.PartitionNames {
			gr.Partitions = append(gr.Partitions, PartitionResult{Name: name, Size: sizes[name]})
		}
		groups = append(groups, gr)
	}
	return groups
}
