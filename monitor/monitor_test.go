package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tutortoise/cat-watch-service/capture"
	"github.com/Tutortoise/cat-watch-service/journal"
	"github.com/Tutortoise/cat-watch-service/models"
)

type fixedStats capture.Stats

func (f fixedStats) Stats() capture.Stats { return capture.Stats(f) }

type fakeHistory struct {
	entries []journal.Entry
	err     error
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := New("", "cam", nil, fixedStats{}, nil, zaptest.NewLogger(t))
	rec := serve(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	stats := fixedStats{Frames: 42, Sightings: 2, VetoedBoxes: 3, ConsecutiveCatFrames: 1}
	s := New("", "porch", []string{"email"}, stats, nil, zaptest.NewLogger(t))

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "porch", got["camera_id"])
	assert.Equal(t, []interface{}{"email"}, got["channels"])
	assert.EqualValues(t, 42, got["frames"])
	assert.EqualValues(t, 2, got["sightings"])
	assert.EqualValues(t, 3, got["vetoed_boxes"])
	assert.EqualValues(t, 1, got["consecutive_cat_frames"])
}

func TestMetricsRejectsPost(t *testing.T) {
	s := New("", "cam", nil, fixedStats{}, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSightings(t *testing.T) {
	history := &fakeHistory{entries: []journal.Entry{{
		ID:        "abc",
		CameraID:  "cam",
		Timestamp: time.Date(2026, 10, 19, 14, 3, 7, 0, time.UTC),
		Box:       models.BoundingBox{X: 1, Y: 2, Width: 80, Height: 80},
		FramePath: "media/cat_20261019_140307.jpg",
	}}}
	s := New("", "cam", nil, fixedStats{}, history, zaptest.NewLogger(t))

	rec := serve(t, s, "/sightings?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, history.limit)

	var got []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].ID)
	assert.Equal(t, 80, got[0].Box.Width)

	serve(t, s, "/sightings")
	assert.Equal(t, DefaultSightingsLimit, history.limit)
}

func TestSightingsEmptyIsArray(t *testing.T) {
	s := New("", "cam", nil, fixedStats{}, &fakeHistory{}, zaptest.NewLogger(t))
	rec := serve(t, s, "/sightings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSightingsErrors(t *testing.T) {
	s := New("", "cam", nil, fixedStats{}, nil, zaptest.NewLogger(t))
	assert.Equal(t, http.StatusNotFound, serve(t, s, "/sightings").Code)

	s = New("", "cam", nil, fixedStats{}, &fakeHistory{err: errors.New("database is locked")}, zaptest.NewLogger(t))
	rec := serve(t, s, "/sightings")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "journal_error")

	assert.Equal(t, http.StatusBadRequest, serve(t, s, "/sightings?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, "/sightings?limit=all").Code)
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	frame := filepath.Join(dir, "cat_20261019_140307.jpg")
	crop := filepath.Join(dir, "cat_20261019_140307_crop.jpg")
	require.NoError(t, os.WriteFile(frame, []byte("frame-bytes"), 0o644))
	require.NoError(t, os.WriteFile(crop, []byte("crop-bytes"), 0o644))

	s := New("", "cam", nil, fixedStats{LastFramePath: frame, LastCropPath: crop}, nil, zaptest.NewLogger(t))

	rec := serve(t, s, "/snapshots/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "frame-bytes", rec.Body.String())

	rec = serve(t, s, "/snapshots/latest?crop=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "crop-bytes", rec.Body.String())
}

func TestLatestSnapshotMissing(t *testing.T) {
	s := New("", "cam", nil, fixedStats{}, nil, zaptest.NewLogger(t))
	assert.Equal(t, http.StatusNotFound, serve(t, s, "/snapshots/latest").Code)

	s = New("", "cam", nil, fixedStats{LastFramePath: filepath.Join(t.TempDir(), "gone.jpg")}, nil, zaptest.NewLogger(t))
	assert.Equal(t, http.StatusNotFound, serve(t, s, "/snapshots/latest").Code)
}

func TestRunStopsWithContext(t *testing.T) {
	s := New("127.0.0.1:0", "cam", nil, fixedStats{}, nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
