package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tutortoise/cat-watch-service/camera"
	"github.com/Tutortoise/cat-watch-service/capture"
	"github.com/Tutortoise/cat-watch-service/cascade"
	"github.com/Tutortoise/cat-watch-service/config"
	"github.com/Tutortoise/cat-watch-service/detections"
	"github.com/Tutortoise/cat-watch-service/evidence"
	"github.com/Tutortoise/cat-watch-service/inference"
	"github.com/Tutortoise/cat-watch-service/journal"
	"github.com/Tutortoise/cat-watch-service/logging"
	"github.com/Tutortoise/cat-watch-service/monitor"
	"github.com/Tutortoise/cat-watch-service/notify"
	"github.com/Tutortoise/cat-watch-service/sighting"
)

const defaultEnvFile = ".env"

func main() {
	app := &cli.App{
		Name:  "catwatch",
		Usage: "watch a camera for cats and send a snapshot when one stays in view",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start watching the camera",
				Flags: []cli.Flag{
					envFileFlag(),
					&cli.BoolFlag{Name: "display", Usage: "show a preview window with detection boxes, q quits"},
					&cli.BoolFlag{Name: "debug", Usage: "log per tick timings", EnvVars: []string{"DEBUG"}},
				},
				Action: runAction,
			},
			{
				Name:   "check",
				Usage:  "validate the configuration and list enabled notification channels",
				Flags:  []cli.Flag{envFileFlag()},
				Action: checkAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "catwatch:", err)
		os.Exit(1)
	}
}

func envFileFlag() cli.Flag {
	return &cli.StringFlag{Name: "env-file", Value: defaultEnvFile, Usage: "load environment variables from `FILE`"}
}

// loadConfig reads the env file, then the environment. A missing default
// .env is fine; a missing file named on the command line is not.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("env-file")
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || c.IsSet("env-file") {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	printConfig(c.App.Writer, cfg)
	return nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "camera:    %s (id %s)\n", cfg.CameraDevice, cfg.CameraID)
	fmt.Fprintf(w, "human:     %s %s\n", cfg.Human.Backend, cfg.Human.Path())
	fmt.Fprintf(w, "cat:       %s %s (roi %t, top %.2f)\n", cfg.Cat.Backend, cfg.Cat.Path(), cfg.CatROI.Enabled, cfg.CatROI.TopFraction)
	fmt.Fprintf(w, "sighting:  %d frames, cooldown %s, veto iou %.2f\n", cfg.PersistFrames, cfg.Cooldown, cfg.HumanIOUThreshold)
	fmt.Fprintf(w, "evidence:  %s (quality %d)\n", cfg.MediaDir, cfg.JPEGQuality)

	var channels []string
	if cfg.Mail.Complete() {
		channels = append(channels, "email")
	}
	if cfg.SMS.Complete() {
		channels = append(channels, "sms")
	}
	if cfg.Kafka.Complete() {
		channels = append(channels, "kafka")
	}
	if len(channels) == 0 {
		channels = []string{"none"}
	}
	fmt.Fprintf(w, "notify:    %s\n", strings.Join(channels, ", "))
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		Debug: c.Bool("debug"),
	})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, c.Bool("display")); err != nil {
		logger.Error("catwatch stopped", zap.Error(err))
		return err
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, display bool) error {
	if cfg.UsesONNX() {
		if err := inference.InitEnvironment(cfg.ONNXLibraryPath); err != nil {
			return err
		}
		defer inference.DestroyEnvironment()
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}
	defer adapter.Close()

	source, err := camera.Open(cfg.CameraDevice)
	if err != nil {
		return err
	}
	defer source.Close()

	writer, err := evidence.NewWriter(cfg.MediaDir, cfg.JPEGQuality)
	if err != nil {
		return err
	}

	metrics := capture.NewMetrics(time.Now())
	loopOpts := []capture.Option{
		capture.WithLogger(logger.Named("capture")),
		capture.WithMetrics(metrics),
	}

	var history monitor.History
	if cfg.JournalPath != "" {
		db, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		history = db
		loopOpts = append(loopOpts, capture.WithJournal(db))
	}

	if display {
		loopOpts = append(loopOpts, capture.WithDisplay(camera.NewDisplay("catwatch "+cfg.CameraID)))
	}

	channels := []notify.Channel{notify.NewMail(cfg.Mail), notify.NewSMS(cfg.SMS)}
	kafkaChannel, err := notify.NewKafka(cfg.Kafka)
	if err != nil {
		logger.Warn("kafka channel disabled", zap.Error(err))
	} else {
		defer kafkaChannel.Close()
		channels = append(channels, kafkaChannel)
	}
	dispatcher := notify.NewDispatcher(channels...)
	enabled := dispatcher.Enabled()
	if len(enabled) == 0 {
		logger.Warn("no notification channel configured, sightings are only saved to disk")
	} else {
		logger.Info("notification channels", zap.Strings("enabled", enabled))
	}

	queue := notify.NewQueue(dispatcher, cfg.NotifyQueueSize, cfg.NotifyTimeout, logger.Named("notify"),
		notify.WithResultHook(metrics.RecordNotification))
	defer queue.Close()

	loop := capture.NewLoop(
		capture.Options{CameraID: cfg.CameraID, HumanIOUThreshold: cfg.HumanIOUThreshold},
		source,
		adapter,
		sighting.NewMachine(cfg.PersistFrames, cfg.Cooldown),
		writer,
		queue,
		loopOpts...,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// a clean stop of the loop also stops the monitor
		defer cancel()
		return loop.Run(gctx)
	})

	if cfg.MonitorAddr != "" {
		srv := monitor.New(cfg.MonitorAddr, cfg.CameraID, enabled, loop, history, logger.Named("monitor"))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	logger.Info("watching for cats",
		zap.String("camera", source.String()),
		zap.Int("persist_frames", cfg.PersistFrames),
		zap.Duration("cooldown", cfg.Cooldown),
		zap.String("media_dir", writer.Dir()),
	)
	return g.Wait()
}

func buildAdapter(cfg *config.Config) (*detections.Adapter, error) {
	human, err := loadClassifier(cfg, cfg.Human)
	if err != nil {
		return nil, fmt.Errorf("human classifier: %w", err)
	}
	cat, err := loadClassifier(cfg, cfg.Cat)
	if err != nil {
		human.Close()
		return nil, fmt.Errorf("cat classifier: %w", err)
	}

	adapter := detections.NewAdapter()
	adapter.Register(detections.Human, human, cfg.Human.Params, detections.ROI{})
	adapter.Register(detections.Cat, cat, cfg.Cat.Params, cfg.CatROI)
	return adapter, nil
}

func loadClassifier(cfg *config.Config, d config.Detector) (detections.Classifier, error) {
	if d.Backend == config.BackendONNX {
		session, err := inference.Load(d.ONNXModel, inference.Options{
			InputSize:     cfg.ONNXInputSize,
			ConfThreshold: float32(cfg.ONNXConfThreshold),
		})
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	classifier, err := cascade.Load(d.CascadePath)
	if err != nil {
		return nil, err
	}
	return classifier, nil
}
