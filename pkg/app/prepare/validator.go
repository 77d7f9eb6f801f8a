package prepare

import (
	"strings"

	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

// Validate validates a preparation request
func (r *Request) Validate() error {
	if strings.TrimSpace(r.ManifestPath) == "" {
		return app.NewError(app.ErrCodeInvalidInput, "manifest path is required", nil)
	}
	if err := r.Slots.Validate(); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid slots", err)
	}
	return nil
}
