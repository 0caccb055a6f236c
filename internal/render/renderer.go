package render

import (
	"time"

	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// Renderer is the display-surface collaborator. Chart drawing itself lives
// outside the scheduler; the scheduler only needs to hand over snapshots,
// trigger lightweight "current time" updates, and detect dead surfaces for
// the orphan sweep.
type Renderer interface {
	// Role identifies the display surface this renderer owns.
	Role() models.Role
	// Render replaces the surface's content with a full snapshot.
	Render(snap *models.Snapshot) error
	// UpdateNow refreshes only the current-time marker and the displayed
	// current price without re-rendering the curve.
	UpdateNow(now time.Time, spotCents float64, priced bool) error
	// Alive reports whether the backing surface still exists.
	Alive() bool
	// Close releases the surface.
	Close() error
}
