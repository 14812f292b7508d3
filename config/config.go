// Package config reads the watcher settings from the environment once at
// startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/Tutortoise/cat-watch-service/detections"
	"github.com/Tutortoise/cat-watch-service/evidence"
	"github.com/Tutortoise/cat-watch-service/inference"
	"github.com/Tutortoise/cat-watch-service/notify"
	"github.com/Tutortoise/cat-watch-service/sighting"
)

var ErrInvalid = errors.New("invalid configuration")

type Backend string

const (
	BackendCascade Backend = "cascade"
	BackendONNX    Backend = "onnx"
)

type Detector struct {
	Backend     Backend
	CascadePath string
	ONNXModel   string
	Params      detections.Params
}

// Path is the model file the selected backend loads.
func (d Detector) Path() string {
	if d.Backend == BackendONNX {
		return d.ONNXModel
	}
	return d.CascadePath
}

type Config struct {
	CameraDevice string
	CameraID     string

	Human  Detector
	Cat    Detector
	CatROI detections.ROI

	ONNXLibraryPath   string
	ONNXInputSize     int
	ONNXConfThreshold float64

	PersistFrames     int
	Cooldown          time.Duration
	HumanIOUThreshold float64

	MediaDir    string
	JPEGQuality int

	Mail            notify.MailConfig
	SMS             notify.SMSConfig
	Kafka           notify.KafkaConfig
	NotifyTimeout   time.Duration
	NotifyQueueSize int

	JournalPath string
	MonitorAddr string
	LogLevel    string
	LogFile     string
}

// Load builds a Config from the process environment. Values that fail to
// parse are reported together, wrapped in ErrInvalid.
func Load() (*Config, error) {
	e := &env{}

	humanDefaults := detections.DefaultParams(detections.Human)
	catDefaults := detections.DefaultParams(detections.Cat)

	cfg := &Config{
		CameraDevice: e.get("CAMERA_DEVICE", "0"),
		CameraID:     e.get("CAMERA_ID", "local_cam"),

		Human: Detector{
			Backend:     Backend(strings.ToLower(e.get("HUMAN_DETECTOR", string(BackendCascade)))),
			CascadePath: e.get("HUMAN_CASCADE_PATH", "haarcascade_frontalface_default.xml"),
			ONNXModel:   e.get("HUMAN_ONNX_MODEL", ""),
			Params: detections.Params{
				ScaleFactor:  e.getFloat("HUMAN_SCALE_FACTOR", humanDefaults.ScaleFactor),
				MinNeighbors: e.getInt("HUMAN_MIN_NEIGHBORS", humanDefaults.MinNeighbors),
				MinSize:      e.getInt("HUMAN_MIN_SIZE", humanDefaults.MinSize),
			},
		},
		Cat: Detector{
			Backend:     Backend(strings.ToLower(e.get("CAT_DETECTOR", string(BackendCascade)))),
			CascadePath: e.get("CAT_CASCADE_PATH", "haarcascade_frontalcatface.xml"),
			ONNXModel:   e.get("CAT_ONNX_MODEL", ""),
			Params: detections.Params{
				ScaleFactor:  e.getFloat("CAT_SCALE_FACTOR", catDefaults.ScaleFactor),
				MinNeighbors: e.getInt("CAT_MIN_NEIGHBORS", catDefaults.MinNeighbors),
				MinSize:      e.getInt("CAT_MIN_SIZE", catDefaults.MinSize),
			},
		},
		CatROI: detections.ROI{
			Enabled:     e.getBool("USE_ROI_FOR_CATS", true),
			TopFraction: e.getFloat("ROI_TOP_FRACTION", detections.DefaultROITopFraction),
		},

		ONNXLibraryPath:   e.get("ONNX_LIBRARY_PATH", ""),
		ONNXInputSize:     e.getInt("ONNX_INPUT_SIZE", inference.DefaultInputSize),
		ONNXConfThreshold: e.getFloat("ONNX_CONF_THRESHOLD", inference.ConfThreshold),

		PersistFrames:     e.getInt("PERSIST_FRAMES", sighting.DefaultPersistFrames),
		Cooldown:          e.getSeconds("COOLDOWN_SEC", sighting.DefaultCooldown),
		HumanIOUThreshold: e.getFloat("HUMAN_IOU_THRESH", detections.DefaultHumanIOUThreshold),

		MediaDir:    e.get("MEDIA_DIR", evidence.DefaultDir),
		JPEGQuality: e.getInt("JPEG_QUALITY", evidence.DefaultJPEGQuality),

		Mail: notify.MailConfig{
			Host:     e.get("SMTP_HOST", ""),
			Port:     e.getInt("SMTP_PORT", notify.DefaultSMTPPort),
			User:     e.get("SMTP_USER", ""),
			Password: e.get("SMTP_PASS", ""),
			From:     e.get("EMAIL_FROM", ""),
			To:       e.get("EMAIL_TO", ""),
		},
		SMS: notify.SMSConfig{
			AccountSID: e.get("TWILIO_SID", ""),
			AuthToken:  e.get("TWILIO_TOKEN", ""),
			From:       e.get("TWILIO_FROM", ""),
			To:         e.get("TWILIO_TO", ""),
		},
		Kafka: notify.KafkaConfig{
			BootstrapServers: e.get("KAFKA_BOOTSTRAP_SERVERS", ""),
			Topic:            e.get("KAFKA_TOPIC", ""),
			SecurityProtocol: e.get("KAFKA_SECURITY_PROTOCOL", ""),
			SASLMechanism:    e.get("KAFKA_SASL_MECHANISM", ""),
			SASLUsername:     e.get("KAFKA_SASL_USERNAME", ""),
			SASLPassword:     e.get("KAFKA_SASL_PASSWORD", ""),
		},
		NotifyTimeout:   e.getDuration("NOTIFY_TIMEOUT", notify.DefaultTimeout),
		NotifyQueueSize: e.getInt("NOTIFY_QUEUE_SIZE", notify.DefaultQueueSize),

		JournalPath: e.get("JOURNAL_PATH", ""),
		MonitorAddr: e.get("MONITOR_ADDR", ""),
		LogLevel:    e.get("LOG_LEVEL", "info"),
		LogFile:     e.get("LOG_FILE", ""),
	}

	if e.errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, e.errs)
	}
	return cfg, nil
}

// Validate checks value ranges and cross field requirements.
func (c *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.CameraDevice != "", "CAMERA_DEVICE must not be empty")
	check(c.PersistFrames >= 1, "PERSIST_FRAMES must be at least 1, got %d", c.PersistFrames)
	check(c.Cooldown >= time.Second, "COOLDOWN_SEC must be at least 1, got %s", c.Cooldown)
	check(c.HumanIOUThreshold > 0 && c.HumanIOUThreshold <= 1,
		"HUMAN_IOU_THRESH must be in (0, 1], got %g", c.HumanIOUThreshold)
	check(c.CatROI.TopFraction >= 0 && c.CatROI.TopFraction < 1,
		"ROI_TOP_FRACTION must be in [0, 1), got %g", c.CatROI.TopFraction)
	check(c.JPEGQuality >= 1 && c.JPEGQuality <= 100, "JPEG_QUALITY must be in [1, 100], got %d", c.JPEGQuality)
	check(c.NotifyTimeout > 0, "NOTIFY_TIMEOUT must be positive")
	check(c.NotifyQueueSize >= 1, "NOTIFY_QUEUE_SIZE must be at least 1, got %d", c.NotifyQueueSize)

	for _, d := range []struct {
		name string
		det  Detector
	}{{"HUMAN", c.Human}, {"CAT", c.Cat}} {
		switch d.det.Backend {
		case BackendCascade:
			check(d.det.CascadePath != "", "%s_CASCADE_PATH must not be empty", d.name)
		case BackendONNX:
			check(d.det.ONNXModel != "", "%s_ONNX_MODEL is required with the onnx backend", d.name)
		default:
			check(false, "%s_DETECTOR must be cascade or onnx, got %q", d.name, d.det.Backend)
		}
		check(d.det.Params.ScaleFactor > 1, "%s_SCALE_FACTOR must be greater than 1", d.name)
		check(d.det.Params.MinNeighbors >= 0, "%s_MIN_NEIGHBORS must not be negative", d.name)
		check(d.det.Params.MinSize >= 0, "%s_MIN_SIZE must not be negative", d.name)
	}

	if c.UsesONNX() {
		check(c.ONNXInputSize > 0 && c.ONNXInputSize%32 == 0,
			"ONNX_INPUT_SIZE must be a positive multiple of 32, got %d", c.ONNXInputSize)
		check(c.ONNXConfThreshold > 0 && c.ONNXConfThreshold < 1,
			"ONNX_CONF_THRESHOLD must be in (0, 1), got %g", c.ONNXConfThreshold)
	}

	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	return nil
}

func (c *Config) UsesONNX() bool {
	return c.Human.Backend == BackendONNX || c.Cat.Backend == BackendONNX
}

// env reads typed values and remembers every parse failure.
type env struct {
	errs error
}

func (e *env) fail(key, value string, err error) {
	e.errs = multierr.Append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (e *env) get(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (e *env) getInt(key string, defaultValue int) int {
	value := e.get(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return n
}

func (e *env) getFloat(key string, defaultValue float64) float64 {
	value := e.get(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return f
}

func (e *env) getBool(key string, defaultValue bool) bool {
	value := e.get(key, "")
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	e.fail(key, value, errors.New("not a boolean"))
	return defaultValue
}

// getSeconds accepts a plain number of seconds.
func (e *env) getSeconds(key string, defaultValue time.Duration) time.Duration {
	value := e.get(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return time.Duration(f * float64(time.Second))
}

// getDuration accepts Go duration syntax or a plain number of seconds.
func (e *env) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := e.get(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return e.getSeconds(key, defaultValue)
}
