// Package sighting decides when a run of cat detections becomes a confirmed
// sighting.
//
// A sighting fires once the cat has been seen in PersistFrames consecutive
// ticks and at least Cooldown has passed since the previous sighting. Firing
// resets the consecutive count. While the count is satisfied but the cooldown
// is still running the count keeps growing, so the first qualifying tick
// after the cooldown fires straight away.
package sighting

import (
	"sync"
	"time"

	"github.com/Tutortoise/cat-watch-service/models"
)

const (
	DefaultPersistFrames = 3
	DefaultCooldown      = 10 * time.Second
)

type Phase int

const (
	Idle Phase = iota
	Accumulating
	Armed
	Fired
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// State is the only data carried from one tick to the next.
type State struct {
	ConsecutiveCatFrames int       `json:"consecutive_cat_frames"`
	LastSnapshot         time.Time `json:"last_snapshot"`
}

type Decision struct {
	Phase       Phase
	Consecutive int
	// Fire is true exactly when Phase is Fired.
	Fire bool
}

type Machine struct {
	persistFrames int
	cooldown      time.Duration

	mu    sync.Mutex
	state State
}

func NewMachine(persistFrames int, cooldown time.Duration) *Machine {
	if persistFrames <= 0 {
		persistFrames = DefaultPersistFrames
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Machine{persistFrames: persistFrames, cooldown: cooldown}
}

// Observe advances the machine by one tick given the cat boxes that survived
// the human veto.
func (m *Machine) Observe(now time.Time, cats []models.BoundingBox) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(cats) == 0 {
		m.state.ConsecutiveCatFrames = 0
		return Decision{Phase: Idle}
	}

	m.state.ConsecutiveCatFrames++
	count := m.state.ConsecutiveCatFrames

	if count < m.persistFrames {
		return Decision{Phase: Accumulating, Consecutive: count}
	}

	if !m.cooledDown(now) {
		return Decision{Phase: Armed, Consecutive: count}
	}

	m.state.ConsecutiveCatFrames = 0
	if now.After(m.state.LastSnapshot) {
		m.state.LastSnapshot = now
	}
	return Decision{Phase: Fired, Consecutive: count, Fire: true}
}

func (m *Machine) cooledDown(now time.Time) bool {
	if m.state.LastSnapshot.IsZero() {
		return true
	}
	return now.Sub(m.state.LastSnapshot) >= m.cooldown
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) PersistFrames() int {
	return m.persistFrames
}

func (m *Machine) Cooldown() time.Duration {
	return m.cooldown
}
