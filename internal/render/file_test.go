package render

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleSnapshot() *models.Snapshot {
	low := 1.5
	return &models.Snapshot{
		Role:        models.RoleToday,
		Date:        "2025-01-15",
		Rows:        []models.PriceRow{{TimeIndex: "0", Low: &low}},
		Granularity: models.GranularityHourly,
		PriceRange:  models.PriceRange{Min: 1.0, Max: 5.0},
	}
}

func readDoc(t *testing.T, path string) surfaceDoc {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read surface: %v", err)
	}
	var doc surfaceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode surface: %v", err)
	}
	return doc
}

func TestRenderWritesSurfaceFile(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFileRenderer(models.RoleToday, dir, testLogger())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	if err := f.Render(sampleSnapshot()); err != nil {
		t.Fatalf("render: %v", err)
	}

	doc := readDoc(t, filepath.Join(dir, "today.json"))
	if doc.Date != "2025-01-15" || len(doc.Rows) != 1 || doc.Current != nil {
		t.Fatalf("surface doc wrong: %+v", doc)
	}
}

func TestUpdateNowAddsCurrentMarker(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFileRenderer(models.RoleToday, dir, testLogger())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	// Before any render the update is a no-op, not an error.
	if err := f.UpdateNow(time.Now(), 4.2, true); err != nil {
		t.Fatalf("pre-render update: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "today.json")); !os.IsNotExist(err) {
		t.Fatalf("no surface may exist before the first render")
	}

	if err := f.Render(sampleSnapshot()); err != nil {
		t.Fatalf("render: %v", err)
	}
	if err := f.UpdateNow(time.Now(), 4.2, true); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc := readDoc(t, filepath.Join(dir, "today.json"))
	if doc.Current == nil || doc.Current.SpotCents != 4.2 {
		t.Fatalf("current marker missing: %+v", doc.Current)
	}

	// Unpriced updates drop the marker again.
	if err := f.UpdateNow(time.Now(), 0, false); err != nil {
		t.Fatalf("unpriced update: %v", err)
	}
	doc = readDoc(t, filepath.Join(dir, "today.json"))
	if doc.Current != nil {
		t.Fatalf("unpriced update must carry no marker")
	}
}

func TestCloseRemovesSurfaceAndKills(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFileRenderer(models.RoleTomorrow, dir, testLogger())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	if err := f.Render(sampleSnapshot()); err != nil {
		t.Fatalf("render: %v", err)
	}

	if !f.Alive() {
		t.Fatalf("renderer with existing dir must be alive")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.Alive() {
		t.Fatalf("closed renderer must not be alive")
	}
	if _, err := os.Stat(filepath.Join(dir, "tomorrow.json")); !os.IsNotExist(err) {
		t.Fatalf("close must remove the surface file")
	}
	if err := f.Render(sampleSnapshot()); err == nil {
		t.Fatalf("render after close must fail")
	}
	// Close is idempotent.
	if err := f.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestAliveTracksDirectory(t *testing.T) {
	dir := t.TempDir()
	spool := filepath.Join(dir, "spool")
	f, err := NewFileRenderer(models.RoleToday, spool, testLogger())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	if !f.Alive() {
		t.Fatalf("renderer must be alive while the dir exists")
	}
	if err := os.RemoveAll(spool); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if f.Alive() {
		t.Fatalf("renderer must die with its directory")
	}
}
