package calibration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

var (
	ul = wellgrid.Point{X: 0, Y: 10, Z: 5}
	ll = wellgrid.Point{X: 0, Y: 0, Z: 5}
	ur = wellgrid.Point{X: 10, Y: 10, Z: 5}
	lr = wellgrid.Point{X: 10, Y: 0, Z: 5}
)

func readySession(t *testing.T) *Session {
	t.Helper()
	s := NewSession()
	s.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC) }
	require.NoError(t, s.SetGrid(2, 2))
	require.NoError(t, s.SetCorner(UpperLeft, ul))
	require.NoError(t, s.SetCorner(LowerLeft, ll))
	require.NoError(t, s.SetCorner(UpperRight, ur))
	require.NoError(t, s.SetCorner(LowerRight, lr))
	return s
}

func TestSessionPhases(t *testing.T) {
	s := NewSession()
	st := s.Status()
	assert.Equal(t, PhaseCollecting, st.Phase)
	assert.Equal(t, Corners, st.Missing)

	require.NoError(t, s.SetCorner(UpperLeft, ul))
	require.NoError(t, s.SetCorner(LowerLeft, ll))
	require.NoError(t, s.SetCorner(UpperRight, ur))
	require.NoError(t, s.SetCorner(LowerRight, lr))
	st = s.Status()
	assert.Equal(t, PhaseCollecting, st.Phase, "grid size still missing")
	assert.Empty(t, st.Missing)
	assert.Contains(t, st.Message, "grid size not set")

	require.NoError(t, s.SetGrid(3, 2))
	st = s.Status()
	assert.Equal(t, PhaseReady, st.Phase)
	assert.Equal(t, 6, st.Wells)
	assert.Len(t, s.Wells(), 6)

	s.MarkSaved("x.json")
	assert.Equal(t, PhaseSaved, s.Status().Phase)

	// Any change invalidates the saved state.
	require.NoError(t, s.SetCorner(LowerRight, wellgrid.Point{X: 11, Y: 0, Z: 5}))
	assert.Equal(t, PhaseReady, s.Status().Phase)

	s.Reset()
	assert.Equal(t, PhaseCollecting, s.Status().Phase)
	assert.Nil(t, s.Wells())
}

func TestSessionInvalidInput(t *testing.T) {
	s := NewSession()
	assert.ErrorIs(t, s.SetGrid(0, 8), wellgrid.ErrInvalidGridSpec)
	assert.ErrorIs(t, s.SetCorner("middle", ul), ErrUnknownCorner)

	_, err := s.Build("plate")
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestParseCorner(t *testing.T) {
	c, err := ParseCorner("upper-right")
	require.NoError(t, err)
	assert.Equal(t, UpperRight, c)

	c, err = ParseCorner("lower_left")
	require.NoError(t, err)
	assert.Equal(t, LowerLeft, c)

	_, err = ParseCorner("Upper Left")
	assert.ErrorIs(t, err, ErrUnknownCorner)
}

func TestSessionBuild(t *testing.T) {
	s := readySession(t)

	_, err := s.Build("../escape")
	require.ErrorIs(t, err, ErrInvalidName)

	c, err := s.Build("plate96")
	require.NoError(t, err)
	assert.Equal(t, "plate96", c.Name)
	assert.Equal(t, 2, c.XQuantity)
	assert.Equal(t, 2, c.YQuantity)
	assert.Equal(t, []string{"A1", "A2", "B1", "B2"}, c.Labels)
	assert.Equal(t, Triple{10, 0, 5}, c.InterpolatedPositions[3])
	assert.Equal(t, Triple{0, 10, 5}, c.UpperLeft)
}

func TestCalibrationJSONLayout(t *testing.T) {
	c, err := readySession(t).Build("plate")
	require.NoError(t, err)

	b, err := json.Marshal(c)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"name", "upper_left", "lower_left", "upper_right", "lower_right",
		"x_quantity", "y_quantity", "interpolated_positions", "labels"} {
		assert.Contains(t, m, k)
	}
	assert.Equal(t, []any{0.0, 10.0, 5.0}, m["upper_left"])
}

func TestStoreSaveLoadList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "calibrations")
	store := NewStore(dir)

	infos, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, infos)

	c, err := readySession(t).Build("plate")
	require.NoError(t, err)

	file, err := store.Save(c)
	require.NoError(t, err)
	assert.Equal(t, "20250314_092653_plate.json", file)

	loaded, err := store.Load(file)
	require.NoError(t, err)
	assert.Equal(t, c.Labels, loaded.Labels)
	assert.Equal(t, c.InterpolatedPositions, loaded.InterpolatedPositions)
	assert.True(t, c.Timestamp.Equal(loaded.Timestamp))

	wells, err := loaded.Wells()
	require.NoError(t, err)
	expected, err := wellgrid.GenerateFromCorners(2, 2, loaded.Corners())
	require.NoError(t, err)
	assert.Equal(t, expected, wells)

	older := *c
	older.Name = "older"
	older.Timestamp = c.Timestamp.Add(-time.Hour)
	_, err = store.Save(&older)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))

	infos, err = store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "plate", infos[0].Name)
	assert.Equal(t, "older", infos[1].Name)
	assert.Equal(t, 2, infos[0].Columns)
}

func TestStoreLoadRejectsPaths(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load("../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestLoadFileLegacy(t *testing.T) {
	// Files written before timestamps were recorded.
	legacy := `{
  "name": "old",
  "upper_left": [0, 10, 5],
  "lower_left": [0, 0, 5],
  "upper_right": [10, 10, 5],
  "lower_right": [10, 0, 5],
  "x_quantity": 2,
  "y_quantity": 1,
  "interpolated_positions": [[0, 10, 5], [10, 10, 5]],
  "labels": ["A1", "A2"]
}`
	dir := t.TempDir()
	path := filepath.Join(dir, "20240101_120000_old.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, c.Timestamp.IsZero())

	infos, err := NewStore(dir).List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 2024, infos[0].SavedAt.Year())
}

func TestCalibrationValidate(t *testing.T) {
	c, err := readySession(t).Build("plate")
	require.NoError(t, err)

	bad := *c
	bad.Labels = bad.Labels[:3]
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFile)

	bad = *c
	bad.XQuantity = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFile)

	bad = *c
	bad.Labels = []string{"A1", "A2", "B1", "C1"}
	_, err = bad.Wells()
	assert.ErrorIs(t, err, ErrInvalidFile)

	bad = *c
	bad.Labels = []string{"A1", "A1", "B1", "B2"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFile)
}

func TestLoadFileRejectsColumnMajor(t *testing.T) {
	// Each label carries its own position, but the wells are not row-major.
	columnMajor := `{
  "name": "transposed",
  "upper_left": [0, 10, 5],
  "lower_left": [0, 0, 5],
  "upper_right": [10, 10, 5],
  "lower_right": [10, 0, 5],
  "x_quantity": 2,
  "y_quantity": 2,
  "interpolated_positions": [[0, 10, 5], [0, 0, 5], [10, 10, 5], [10, 0, 5]],
  "labels": ["A1", "B1", "A2", "B2"]
}`
	path := filepath.Join(t.TempDir(), "20240101_120000_transposed.json")
	require.NoError(t, os.WriteFile(path, []byte(columnMajor), 0644))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestWellsRowMajor(t *testing.T) {
	c, err := readySession(t).Build("plate")
	require.NoError(t, err)

	wells, err := c.Wells()
	require.NoError(t, err)

	ordered, err := wellgrid.Sequence(wells, 2, 2, wellgrid.Snake)
	require.NoError(t, err)
	labels := make([]string, len(ordered))
	for i, w := range ordered {
		labels[i] = w.Label
	}
	assert.Equal(t, []string{"A1", "A2", "B2", "B1"}, labels)
	assert.Equal(t, 1, wells[3].Row)
	assert.Equal(t, 1, wells[3].Column)
}
