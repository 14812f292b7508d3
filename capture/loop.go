// Package capture drives the per frame pipeline: detect, veto, decide and,
// on a confirmed sighting, store evidence and notify.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tutortoise/cat-watch-service/detections"
	"github.com/Tutortoise/cat-watch-service/evidence"
	"github.com/Tutortoise/cat-watch-service/journal"
	"github.com/Tutortoise/cat-watch-service/models"
	"github.com/Tutortoise/cat-watch-service/notify"
	"github.com/Tutortoise/cat-watch-service/sighting"
)

type FrameSource interface {
	// Read blocks until the next frame. Any error ends the stream.
	Read() (image.Image, error)
}

type Detector interface {
	Detect(kind detections.Kind, gray *image.Gray) ([]models.BoundingBox, error)
}

type Decider interface {
	Observe(now time.Time, cats []models.BoundingBox) sighting.Decision
	State() sighting.State
}

type EvidenceWriter interface {
	Write(ev models.SightingEvent) (evidence.Record, error)
}

type Notifier interface {
	Submit(s notify.Sighting) bool
}

type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Display renders a tick for a local operator. Show returns true when the
// operator asked to stop. A Display that is also an io.Closer is closed by
// Run on the same OS thread that called Show.
type Display interface {
	Show(frame image.Image, df models.DetectionFrame) bool
}

type Options struct {
	CameraID          string
	HumanIOUThreshold float64
}

type Loop struct {
	opts     Options
	source   FrameSource
	detector Detector
	decider  Decider
	writer   EvidenceWriter
	notifier Notifier
	journal  Journal
	display  Display
	clock    clock.Clock
	metrics  *Metrics
	logger   *zap.Logger
	tick     uint64
}

type Option func(*Loop)

func WithJournal(j Journal) Option { return func(l *Loop) { l.journal = j } }

func WithDisplay(d Display) Option { return func(l *Loop) { l.display = d } }

func WithClock(c clock.Clock) Option { return func(l *Loop) { l.clock = c } }

func WithMetrics(m *Metrics) Option { return func(l *Loop) { l.metrics = m } }

func WithLogger(logger *zap.Logger) Option { return func(l *Loop) { l.logger = logger } }

func NewLoop(opts Options, source FrameSource, detector Detector, decider Decider, writer EvidenceWriter, notifier Notifier, options ...Option) *Loop {
	if opts.HumanIOUThreshold <= 0 {
		opts.HumanIOUThreshold = detections.DefaultHumanIOUThreshold
	}
	l := &Loop{
		opts:     opts,
		source:   source,
		detector: detector,
		decider:  decider,
		writer:   writer,
		notifier: notifier,
		clock:    clock.New(),
		logger:   zap.NewNop(),
	}
	for _, o := range options {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = NewMetrics(l.clock.Now())
	}
	return l
}

func (l *Loop) Metrics() *Metrics {
	return l.metrics
}

func (l *Loop) Stats() Stats {
	return l.metrics.Snapshot()
}

var errQuit = errors.New("quit requested")

// Run processes frames until ctx is done, the operator quits, or the frame
// source fails. Only the last case returns an error.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("capture loop started", zap.String("camera_id", l.opts.CameraID))
	if l.display != nil {
		// GUI toolkits expect a single thread
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if c, ok := l.display.(io.Closer); ok {
			defer func() {
				if err := c.Close(); err != nil {
					l.logger.Warn("failed to close display", zap.Error(err))
				}
			}()
		}
	}
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("capture loop stopped", zap.Error(ctx.Err()))
			return nil
		default:
		}

		if err := l.Tick(ctx); err != nil {
			if errors.Is(err, errQuit) {
				l.logger.Info("quit requested from display")
				return nil
			}
			return err
		}
	}
}

// Tick reads and processes exactly one frame.
func (l *Loop) Tick(ctx context.Context) error {
	l.tick++
	timings := &models.TickTimings{Tick: l.tick}
	start := l.clock.Now()

	frame, err := l.source.Read()
	timings.Acquire = l.clock.Since(start)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	stage := l.clock.Now()
	gray := detections.Grayscale(frame)
	timings.Grayscale = l.clock.Since(stage)

	df, detectErr := l.detect(gray, timings)

	stage = l.clock.Now()
	var vetoed int
	df.CatBoxes, vetoed = detections.Veto(df.CatBoxes, df.HumanBoxes, l.opts.HumanIOUThreshold)
	df.Vetoed = vetoed
	timings.Veto = l.clock.Since(stage)

	stage = l.clock.Now()
	df.Timestamp = stage
	decision := l.decider.Observe(df.Timestamp, df.CatBoxes)
	timings.Decide = l.clock.Since(stage)
	state := l.decider.State()

	l.metrics.update(func(s *Stats) {
		s.Frames++
		s.VetoedBoxes += uint64(vetoed)
		s.ConsecutiveCatFrames = state.ConsecutiveCatFrames
		if len(df.CatBoxes) > 0 {
			s.CatTicks++
		}
		if detectErr != nil {
			s.DetectorErrors++
		}
	})

	if decision.Fire {
		stage = l.clock.Now()
		l.fire(ctx, frame, df)
		timings.Evidence = l.clock.Since(stage)
	}

	timings.Total = l.clock.Since(start)
	l.logTimings(timings, decision)

	if l.display != nil && l.display.Show(frame, df) {
		return errQuit
	}
	return nil
}

// detect runs both detectors. When either fails the tick counts as empty,
// since cat boxes cannot be vetted without the human result.
func (l *Loop) detect(gray *image.Gray, timings *models.TickTimings) (models.DetectionFrame, error) {
	var df models.DetectionFrame

	stage := l.clock.Now()
	humans, err := l.detector.Detect(detections.Human, gray)
	timings.HumanDetect = l.clock.Since(stage)
	if err != nil {
		l.logger.Warn("human detection failed", zap.Error(err))
		return df, err
	}

	stage = l.clock.Now()
	cats, err := l.detector.Detect(detections.Cat, gray)
	timings.CatDetect = l.clock.Since(stage)
	if err != nil {
		l.logger.Warn("cat detection failed", zap.Error(err))
		return models.DetectionFrame{HumanBoxes: humans}, err
	}

	df.HumanBoxes = humans
	df.CatBoxes = cats
	return df, nil
}

func (l *Loop) fire(ctx context.Context, frame image.Image, df models.DetectionFrame) {
	box, ok := evidence.ChooseBox(df.CatBoxes)
	if !ok {
		return
	}
	ev := models.SightingEvent{
		ID:        uuid.New(),
		Timestamp: df.Timestamp,
		ChosenBox: box,
		Frame:     frame,
	}
	logger := l.logger.With(zap.Stringer("event_id", ev.ID))

	rec, err := l.writer.Write(ev)
	if err != nil {
		logger.Warn("failed to write evidence", zap.Error(err))
	}
	if rec.FramePath != "" {
		logger.Info("cat snapshot saved", zap.String("path", rec.FramePath))
	}
	if rec.CropPath != "" {
		logger.Info("cat crop saved", zap.String("path", rec.CropPath))
	}

	l.metrics.update(func(s *Stats) {
		s.Sightings++
		s.LastSighting = ev.Timestamp
		if err != nil {
			s.EvidenceErrors++
		}
		if rec.FramePath != "" {
			s.LastFramePath = rec.FramePath
			s.LastCropPath = rec.CropPath
		}
	})

	if l.journal != nil {
		entry := journal.Entry{
			ID:        ev.ID.String(),
			CameraID:  l.opts.CameraID,
			Timestamp: ev.Timestamp,
			Box:       box,
			FramePath: rec.FramePath,
			CropPath:  rec.CropPath,
		}
		if err := l.journal.Record(ctx, entry); err != nil {
			logger.Warn("failed to journal sighting", zap.Error(err))
		}
	}

	submitted := l.notifier.Submit(notify.Sighting{
		EventID:   ev.ID,
		CameraID:  l.opts.CameraID,
		Timestamp: ev.Timestamp,
		Box:       box,
		ImagePath: rec.FramePath,
	})
	if !submitted {
		l.metrics.update(func(s *Stats) { s.NotifyDropped++ })
	}
}

func (l *Loop) logTimings(t *models.TickTimings, d sighting.Decision) {
	if ce := l.logger.Check(zap.DebugLevel, "tick"); ce != nil {
		ce.Write(
			zap.Uint64("tick", t.Tick),
			zap.Stringer("phase", d.Phase),
			zap.Int("consecutive", d.Consecutive),
			zap.Duration("acquire", t.Acquire),
			zap.Duration("grayscale", t.Grayscale),
			zap.Duration("human_detect", t.HumanDetect),
			zap.Duration("cat_detect", t.CatDetect),
			zap.Duration("veto", t.Veto),
			zap.Duration("decide", t.Decide),
			zap.Duration("evidence", t.Evidence),
			zap.Duration("total", t.Total),
		)
	}
}
