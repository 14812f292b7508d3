package capture

import (
	"sync"
	"time"

	"github.com/Tutortoise/cat-watch-service/notify"
)

// Stats is a point in time copy of the loop counters.
type Stats struct {
	StartedAt            time.Time `json:"started_at"`
	Frames               uint64    `json:"frames"`
	CatTicks             uint64    `json:"cat_ticks"`
	VetoedBoxes          uint64    `json:"vetoed_boxes"`
	DetectorErrors       uint64    `json:"detector_errors"`
	Sightings            uint64    `json:"sightings"`
	EvidenceErrors       uint64    `json:"evidence_errors"`
	NotifySent           uint64    `json:"notify_sent"`
	NotifyFailed         uint64    `json:"notify_failed"`
	NotifyDropped        uint64    `json:"notify_dropped"`
	ConsecutiveCatFrames int       `json:"consecutive_cat_frames"`
	LastSighting         time.Time `json:"last_sighting,omitempty"`
	LastFramePath        string    `json:"last_frame_path,omitempty"`
	LastCropPath         string    `json:"last_crop_path,omitempty"`
}

// Metrics is shared between the loop, the notification worker and the
// monitor.
type Metrics struct {
	mu    sync.RWMutex
	stats Stats
}

func NewMetrics(started time.Time) *Metrics {
	return &Metrics{stats: Stats{StartedAt: started}}
}

func (m *Metrics) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Metrics) update(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}

// RecordNotification is meant to be used as a notify.Queue result hook.
func (m *Metrics) RecordNotification(_ notify.Sighting, res notify.Result) {
	if res.NotConfigured() {
		return
	}
	m.update(func(s *Stats) {
		if res.OK() {
			s.NotifySent++
		} else {
			s.NotifyFailed++
		}
	})
}
