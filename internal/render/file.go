package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// FileRenderer writes a role's curve as a JSON document into a spool
// directory consumed by the display layer. The write is atomic (tmp+rename)
// so the display never observes a torn file.
type FileRenderer struct {
	role   models.Role
	dir    string
	logger *logrus.Entry

	mu     sync.Mutex
	closed bool
	last   *models.Snapshot
}

type surfaceDoc struct {
	Role        models.Role        `json:"role"`
	Date        string             `json:"date"`
	Granularity models.Granularity `json:"granularity"`
	Rows        []models.PriceRow  `json:"rows"`
	PriceRange  models.PriceRange  `json:"price_range"`
	RenderedAt  time.Time          `json:"rendered_at"`
	Current     *currentMarker     `json:"current,omitempty"`
}

type currentMarker struct {
	At        time.Time `json:"at"`
	SpotCents float64   `json:"spot_cents"`
}

// NewFileRenderer creates the spool directory if needed.
func NewFileRenderer(role models.Role, dir string, logger *logrus.Logger) (*FileRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create display dir %s: %w", dir, err)
	}
	return &FileRenderer{
		role:   role,
		dir:    dir,
		logger: logger.WithFields(logrus.Fields{"component": "render", "role": role}),
	}, nil
}

func (f *FileRenderer) Role() models.Role { return f.role }

func (f *FileRenderer) path() string {
	return filepath.Join(f.dir, string(f.role)+".json")
}

// Render writes the full snapshot to the surface file.
func (f *FileRenderer) Render(snap *models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("renderer for %s is closed", f.role)
	}
	f.last = snap
	return f.write(&surfaceDoc{
		Role:        snap.Role,
		Date:        snap.Date,
		Granularity: snap.Granularity,
		Rows:        snap.Rows,
		PriceRange:  snap.PriceRange,
		RenderedAt:  time.Now(),
	})
}

// UpdateNow rewrites only the current-time marker on top of the last rendered
// snapshot. A surface that never rendered ignores the update.
func (f *FileRenderer) UpdateNow(now time.Time, spotCents float64, priced bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.last == nil {
		return nil
	}
	doc := &surfaceDoc{
		Role:        f.last.Role,
		Date:        f.last.Date,
		Granularity: f.last.Granularity,
		Rows:        f.last.Rows,
		PriceRange:  f.last.PriceRange,
		RenderedAt:  time.Now(),
	}
	if priced {
		doc.Current = &currentMarker{At: now, SpotCents: spotCents}
	}
	return f.write(doc)
}

func (f *FileRenderer) write(doc *surfaceDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal surface doc: %w", err)
	}
	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write surface file: %w", err)
	}
	if err := os.Rename(tmp, f.path()); err != nil {
		return fmt.Errorf("failed to publish surface file: %w", err)
	}
	return nil
}

// Alive reports whether the spool directory still exists.
func (f *FileRenderer) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	info, err := os.Stat(f.dir)
	return err == nil && info.IsDir()
}

// Close removes the surface file and marks the renderer dead. Idempotent.
func (f *FileRenderer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if err := os.Remove(f.path()); err != nil && !os.IsNotExist(err) {
		f.logger.WithError(err).Warn("Failed to remove surface file")
	}
	return nil
}
