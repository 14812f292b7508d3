package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0", cfg.CameraDevice)
	assert.Equal(t, "local_cam", cfg.CameraID)
	assert.Equal(t, BackendCascade, cfg.Human.Backend)
	assert.Equal(t, "haarcascade_frontalface_default.xml", cfg.Human.Path())
	assert.Equal(t, "haarcascade_frontalcatface.xml", cfg.Cat.Path())
	assert.InDelta(t, 1.10, cfg.Human.Params.ScaleFactor, 1e-9)
	assert.Equal(t, 6, cfg.Human.Params.MinNeighbors)
	assert.InDelta(t, 1.02, cfg.Cat.Params.ScaleFactor, 1e-9)
	assert.Equal(t, 5, cfg.Cat.Params.MinNeighbors)
	assert.Equal(t, 80, cfg.Cat.Params.MinSize)
	assert.True(t, cfg.CatROI.Enabled)
	assert.InDelta(t, 0.45, cfg.CatROI.TopFraction, 1e-9)
	assert.Equal(t, 3, cfg.PersistFrames)
	assert.Equal(t, 10*time.Second, cfg.Cooldown)
	assert.InDelta(t, 0.2, cfg.HumanIOUThreshold, 1e-9)
	assert.Equal(t, "media", cfg.MediaDir)
	assert.Equal(t, 90, cfg.JPEGQuality)
	assert.Equal(t, 587, cfg.Mail.Port)
	assert.False(t, cfg.Mail.Complete())
	assert.False(t, cfg.SMS.Complete())
	assert.False(t, cfg.Kafka.Complete())
	assert.Equal(t, 30*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, 8, cfg.NotifyQueueSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.UsesONNX())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CAMERA_DEVICE", "rtsp://porch.local/stream")
	t.Setenv("CAMERA_ID", "porch")
	t.Setenv("PERSIST_FRAMES", "5")
	t.Setenv("COOLDOWN_SEC", "2.5")
	t.Setenv("USE_ROI_FOR_CATS", "false")
	t.Setenv("HUMAN_DETECTOR", "ONNX")
	t.Setenv("HUMAN_ONNX_MODEL", "models/face.onnx")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_USER", "cam")
	t.Setenv("SMTP_PASS", "secret")
	t.Setenv("EMAIL_FROM", "cam@example.com")
	t.Setenv("EMAIL_TO", "me@example.com")
	t.Setenv("NOTIFY_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "rtsp://porch.local/stream", cfg.CameraDevice)
	assert.Equal(t, "porch", cfg.CameraID)
	assert.Equal(t, 5, cfg.PersistFrames)
	assert.Equal(t, 2500*time.Millisecond, cfg.Cooldown)
	assert.False(t, cfg.CatROI.Enabled)
	assert.Equal(t, BackendONNX, cfg.Human.Backend)
	assert.Equal(t, "models/face.onnx", cfg.Human.Path())
	assert.True(t, cfg.UsesONNX())
	assert.True(t, cfg.Mail.Complete())
	assert.Equal(t, 2525, cfg.Mail.Port)
	assert.Equal(t, 5*time.Second, cfg.NotifyTimeout)
}

func TestLoadNotifyTimeoutInSeconds(t *testing.T) {
	t.Setenv("NOTIFY_TIMEOUT", "12")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, cfg.NotifyTimeout)
}

func TestLoadReportsEveryParseError(t *testing.T) {
	t.Setenv("PERSIST_FRAMES", "three")
	t.Setenv("HUMAN_IOU_THRESH", "high")
	t.Setenv("USE_ROI_FOR_CATS", "maybe")

	_, err := Load()
	require.ErrorIs(t, err, ErrInvalid)
	assert.ErrorContains(t, err, "PERSIST_FRAMES")
	assert.ErrorContains(t, err, "HUMAN_IOU_THRESH")
	assert.ErrorContains(t, err, "USE_ROI_FOR_CATS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"cooldown below one second", func(c *Config) { c.Cooldown = 500 * time.Millisecond }, "COOLDOWN_SEC"},
		{"zero persistence", func(c *Config) { c.PersistFrames = 0 }, "PERSIST_FRAMES"},
		{"zero iou threshold", func(c *Config) { c.HumanIOUThreshold = 0 }, "HUMAN_IOU_THRESH"},
		{"iou threshold above one", func(c *Config) { c.HumanIOUThreshold = 1.5 }, "HUMAN_IOU_THRESH"},
		{"roi fraction of one", func(c *Config) { c.CatROI.TopFraction = 1 }, "ROI_TOP_FRACTION"},
		{"unknown backend", func(c *Config) { c.Cat.Backend = "dnn" }, "CAT_DETECTOR"},
		{"onnx without model", func(c *Config) { c.Cat.Backend = BackendONNX }, "CAT_ONNX_MODEL"},
		{"onnx input size", func(c *Config) {
			c.Human.Backend = BackendONNX
			c.Human.ONNXModel = "face.onnx"
			c.ONNXInputSize = 250
		}, "ONNX_INPUT_SIZE"},
		{"jpeg quality", func(c *Config) { c.JPEGQuality = 0 }, "JPEG_QUALITY"},
		{"queue size", func(c *Config) { c.NotifyQueueSize = 0 }, "NOTIFY_QUEUE_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateCombinesErrors(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.PersistFrames = 0
	cfg.Cooldown = 0

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.ErrorContains(t, err, "PERSIST_FRAMES")
	assert.ErrorContains(t, err, "COOLDOWN_SEC")
}
