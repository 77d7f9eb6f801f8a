// File: internal/interfaces/metadata_store.go
package interfaces

import (
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// MetadataReader loads super partition metadata
type MetadataReader interface {
	// Load returns the table stored for slot, or metadata.ErrNoMetadata
	Load(device string, slot types.Slot) (*metadata.Builder, error)
}

// MetadataStore loads and persists super partition metadata
type MetadataStore interface {
	MetadataReader

	// LoadForUpdate returns a table spanning source and target slots
	LoadForUpdate(device string, source, target types.Slot, keepSource bool) (*metadata.Builder, error)

	// Flash writes geometry and table to all metadata slots
	Flash(device string, b *metadata.Builder) error

	// Update writes the table to a single metadata slot
	Update(device string, b *metadata.Builder, slot types.Slot) error
}
