package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/stability"
)

const minimalYAML = `
liveness:
  base_url: https://api.example.com/v1
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "liveness", cfg.InstanceID)
	assert.Equal(t, "gstreamer", cfg.Camera.Source)
	assert.Equal(t, "/dev/video0", cfg.Camera.Device)
	assert.Equal(t, 300*time.Millisecond, cfg.Camera.GraceDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Camera.HandoffDelay)
	assert.Equal(t, 160, cfg.Analysis.Width)
	assert.Equal(t, 95, cfg.Capture.JPEGQuality)
	assert.Equal(t, time.Second, cfg.Liveness.SettleDelay)
	assert.Equal(t, "sign_in", cfg.Flow.Variant)
	assert.Equal(t, 3, cfg.Flow.MaxAttempts)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)

	mc := cfg.ManagerConfig()
	assert.Equal(t, camera.PreferredConstraints(), mc.Preferred)
	assert.Equal(t, camera.MinimalConstraints(), mc.Minimal)

	oc := cfg.OrchestratorConfig()
	assert.True(t, oc.Policy.AcceptCreated)
	assert.True(t, oc.Policy.AcceptExpired)

	fc := cfg.FlowConfig()
	assert.True(t, fc.AutoRetryOnReject)
	assert.Equal(t, 200*time.Millisecond, fc.SearchInterval)
	assert.Equal(t, 400*time.Millisecond, fc.CountdownInterval)

	sc, err := cfg.StabilityConfig()
	require.NoError(t, err)
	assert.Equal(t, stability.SignInConfig(), sc)
}

func TestLoad_SampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "liveness.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "kiosk-01", cfg.InstanceID)
	assert.Equal(t, 0.75, cfg.Capture.PreviewAspect)
	assert.Equal(t, camera.FacingUser, cfg.ManagerConfig().Preferred.Facing)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestParse_ExplicitValues(t *testing.T) {
	doc := `
instance_id: lab-7
camera:
  source: test
  test_fps: 30
  preferred: { width: 320, height: 240, fps: 30, facing: environment }
  minimal: { width: 160, height: 120 }
  grace_delay: 50ms
liveness:
  base_url: http://localhost:9000
  accept_created: false
flow:
  variant: reset_biometric
  auto_retry_on_reject: false
mqtt:
  enabled: true
  broker: broker:1883
  encoding: msgpack
  control: true
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Camera.Source)
	assert.Equal(t, "", cfg.Camera.Device, "test source needs no device")
	assert.Equal(t, 50*time.Millisecond, cfg.ManagerConfig().GraceDelay)
	assert.Equal(t, camera.FacingEnvironment, cfg.ManagerConfig().Preferred.Facing)

	oc := cfg.OrchestratorConfig()
	assert.False(t, oc.Policy.AcceptCreated)
	assert.True(t, oc.Policy.AcceptExpired)

	assert.False(t, cfg.FlowConfig().AutoRetryOnReject)
	sc, err := cfg.StabilityConfig()
	require.NoError(t, err)
	assert.Equal(t, stability.ResetBiometricConfig(), sc)

	assert.Equal(t, "liveness/outcomes/lab-7", cfg.MQTT.Topic)
	assert.Equal(t, "msgpack", cfg.MQTT.Encoding)
	assert.Equal(t, "liveness/control/lab-7", cfg.MQTT.ControlTopic)
	assert.Equal(t, "liveness/control/lab-7/responses", cfg.MQTT.ResponseTopic)
}

func TestParse_StabilityOverride(t *testing.T) {
	doc := minimalYAML + `
flow:
  stability:
    start_threshold: 65
    relaxed_threshold: 55
    miss_ceiling: 2
    stability_tolerance: 10
    countdown_seconds: 3
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	sc, err := cfg.StabilityConfig()
	require.NoError(t, err)
	assert.Equal(t, 65, sc.StartThreshold)
	assert.Equal(t, 3, sc.CountdownSeconds)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LIVENESS_BASE_URL", "https://override.example.com")
	t.Setenv("LIVENESS_API_TOKEN", "tok")
	t.Setenv("CAMERA_DEVICE", "/dev/video2")
	t.Setenv("MQTT_BROKER", "mqtt:1883")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com", cfg.Liveness.BaseURL)
	assert.Equal(t, "tok", cfg.Liveness.APIToken)
	assert.Equal(t, "/dev/video2", cfg.Camera.Device)
	assert.Equal(t, "mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing_base_url", `instance_id: a`},
		{"relative_base_url", `liveness: { base_url: /v1 }`},
		{"bad_instance_id", minimalYAML + "instance_id: Kiosk_01\n"},
		{"bad_source", minimalYAML + "camera: { source: webrtc }\n"},
		{"bad_facing", minimalYAML + "camera: { preferred: { width: 10, height: 10, facing: sideways } }\n"},
		{"bad_quality", minimalYAML + "capture: { jpeg_quality: 101 }\n"},
		{"bad_variant", minimalYAML + "flow: { variant: kiosk }\n"},
		{"bad_attempts", minimalYAML + "flow: { max_attempts: -1 }\n"},
		{"bad_radius", minimalYAML + "analysis: { radius_x: 0.8 }\n"},
		{"mqtt_without_broker", minimalYAML + "mqtt: { enabled: true }\n"},
		{"mqtt_bad_encoding", minimalYAML + "mqtt: { enabled: true, broker: b:1883, encoding: xml }\n"},
		{"mqtt_response_on_control", minimalYAML + "mqtt: { enabled: true, broker: b:1883, control: true, control_topic: c, response_topic: c }\n"},
		{"bad_yaml", "liveness: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ORION_LIVENESS_TEST_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ORION_LIVENESS_TEST_KEY") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("ORION_LIVENESS_TEST_KEY"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")), "a missing file is not an error")
}
