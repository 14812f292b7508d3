// Package notify delivers sighting alerts over independent best-effort
// channels. A channel failing never stops the others and never panics past
// the dispatcher.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/Tutortoise/cat-watch-service/models"
)

// ErrNotConfigured is returned by a channel whose settings are incomplete.
// It marks a disabled channel, not a failure.
var ErrNotConfigured = errors.New("channel not configured")

// Sighting is what gets reported for a confirmed cat.
type Sighting struct {
	EventID    uuid.UUID          `json:"event_id"`
	CameraID   string             `json:"camera_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Box        models.BoundingBox `json:"box"`
	ImagePath  string             `json:"image_path,omitempty"`
	Confidence *float64           `json:"confidence"`
}

func (s Sighting) Subject() string {
	return fmt.Sprintf("Cat spotted! (%s)", s.CameraID)
}

func (s Sighting) Body() string {
	return fmt.Sprintf("Cat detected on %s. Conf=%s", s.CameraID, s.confidence())
}

// Text is the short form used where attachments are not possible.
func (s Sighting) Text() string {
	return fmt.Sprintf("%s Conf=%s", s.Subject(), s.confidence())
}

func (s Sighting) confidence() string {
	if s.Confidence == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *s.Confidence)
}

type Channel interface {
	Name() string
	Configured() bool
	Send(ctx context.Context, s Sighting) error
}

type ChannelResult struct {
	Channel    string `json:"channel"`
	Configured bool   `json:"configured"`
	Err        error  `json:"-"`
}

func (c ChannelResult) OK() bool {
	return c.Configured && c.Err == nil
}

type Result struct {
	Channels []ChannelResult
}

// OK reports whether at least one channel delivered.
func (r Result) OK() bool {
	for _, c := range r.Channels {
		if c.OK() {
			return true
		}
	}
	return false
}

// NotConfigured is true when every channel is disabled.
func (r Result) NotConfigured() bool {
	for _, c := range r.Channels {
		if c.Configured {
			return false
		}
	}
	return true
}

func (r Result) Err() error {
	var err error
	for _, c := range r.Channels {
		if c.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", c.Channel, c.Err))
		}
	}
	return err
}

type Dispatcher struct {
	channels []Channel
}

func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels}
}

// Enabled lists the names of channels with a complete configuration.
func (d *Dispatcher) Enabled() []string {
	var names []string
	for _, c := range d.channels {
		if c.Configured() {
			names = append(names, c.Name())
		}
	}
	return names
}

// Dispatch tries every channel in order and reports each outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, s Sighting) Result {
	res := Result{Channels: make([]ChannelResult, 0, len(d.channels))}
	for _, c := range d.channels {
		res.Channels = append(res.Channels, send(ctx, c, s))
	}
	return res
}

func send(ctx context.Context, c Channel, s Sighting) (res ChannelResult) {
	res.Channel = c.Name()
	if !c.Configured() {
		return res
	}
	res.Configured = true

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := c.Send(ctx, s); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			res.Configured = false
			return res
		}
		res.Err = err
	}
	return res
}
