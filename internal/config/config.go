package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/capture"
	"github.com/e7canasta/orion-liveness/modules/facecapture"
	"github.com/e7canasta/orion-liveness/modules/liveness"
	"github.com/e7canasta/orion-liveness/modules/presence"
	"github.com/e7canasta/orion-liveness/modules/stability"
)

// Config represents the complete daemon configuration
type Config struct {
	InstanceID string         `yaml:"instance_id"`
	Log        LogConfig      `yaml:"log"`
	Camera     CameraConfig   `yaml:"camera"`
	Analysis   AnalysisConfig `yaml:"analysis"`
	Capture    CaptureConfig  `yaml:"capture"`
	Liveness   LivenessConfig `yaml:"liveness"`
	Flow       FlowConfig     `yaml:"flow"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
	HTTP       HTTPConfig     `yaml:"http"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// CameraConfig contains device settings
type CameraConfig struct {
	Source            string            `yaml:"source"` // gstreamer, test
	Device            string            `yaml:"device"`
	EnvironmentDevice string            `yaml:"environment_device"`
	StartTimeout      time.Duration     `yaml:"start_timeout"`
	TestFPS           int               `yaml:"test_fps"`
	Preferred         ConstraintsConfig `yaml:"preferred"`
	Minimal           ConstraintsConfig `yaml:"minimal"`
	GraceDelay        time.Duration     `yaml:"grace_delay"`
	HandoffDelay      time.Duration     `yaml:"handoff_delay"`
}

// ConstraintsConfig is a requested device configuration
type ConstraintsConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Facing string `yaml:"facing"` // user, environment, any
}

// AnalysisConfig contains presence analysis settings
type AnalysisConfig struct {
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	RadiusX float64 `yaml:"radius_x"`
	RadiusY float64 `yaml:"radius_y"`
}

// CaptureConfig contains still capture settings
type CaptureConfig struct {
	PreviewAspect float64       `yaml:"preview_aspect"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
}

// LivenessConfig contains remote service settings
type LivenessConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIToken      string        `yaml:"api_token"`
	ProcessTag    string        `yaml:"process_tag"`
	Timeout       time.Duration `yaml:"timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	AcceptCreated *bool         `yaml:"accept_created"`
	AcceptExpired *bool         `yaml:"accept_expired"`
}

// FlowConfig contains capture flow settings
type FlowConfig struct {
	Variant           string            `yaml:"variant"` // sign_in, reset_biometric
	Stability         *stability.Config `yaml:"stability,omitempty"`
	MaxAttempts       int               `yaml:"max_attempts"`
	AutoRetryOnReject *bool             `yaml:"auto_retry_on_reject"`
	SearchInterval    time.Duration     `yaml:"search_interval"`
	CountdownInterval time.Duration     `yaml:"countdown_interval"`
}

// MQTTConfig contains outcome event publishing and control plane settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Encoding string `yaml:"encoding"` // json, msgpack

	// Control subscribes to ControlTopic for start/trigger/cancel commands
	Control       bool   `yaml:"control"`
	ControlTopic  string `yaml:"control_topic"`
	ResponseTopic string `yaml:"response_topic"`
}

// HTTPConfig contains control surface settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoadDotEnv loads .env files into the process environment. A missing file
// is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses a YAML configuration file, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load over an in-memory document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides selected keys from the environment
func ApplyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	override(&cfg.Liveness.BaseURL, "LIVENESS_BASE_URL")
	override(&cfg.Liveness.APIToken, "LIVENESS_API_TOKEN")
	override(&cfg.Camera.Device, "CAMERA_DEVICE")
	override(&cfg.MQTT.Broker, "MQTT_BROKER")
	override(&cfg.Log.Level, "LOG_LEVEL")
	override(&cfg.HTTP.Addr, "HTTP_ADDR")
}

// ManagerConfig builds the device manager configuration
func (c *Config) ManagerConfig() camera.ManagerConfig {
	return camera.ManagerConfig{
		Preferred:    c.Camera.Preferred.constraints(),
		Minimal:      c.Camera.Minimal.constraints(),
		GraceDelay:   c.Camera.GraceDelay,
		HandoffDelay: c.Camera.HandoffDelay,
	}
}

// DeviceConfig builds the hardware source configuration
func (c *Config) DeviceConfig() camera.DeviceConfig {
	return camera.DeviceConfig{
		UserDevice:        c.Camera.Device,
		EnvironmentDevice: c.Camera.EnvironmentDevice,
		StartTimeout:      c.Camera.StartTimeout,
	}
}

// AnalyzerConfig builds the presence analyzer configuration
func (c *Config) AnalyzerConfig() presence.Config {
	return presence.Config{
		Width:   c.Analysis.Width,
		Height:  c.Analysis.Height,
		RadiusX: c.Analysis.RadiusX,
		RadiusY: c.Analysis.RadiusY,
	}
}

// StabilityConfig returns the variant preset, or the explicit override
func (c *Config) StabilityConfig() (stability.Config, error) {
	if c.Flow.Stability != nil {
		return *c.Flow.Stability, c.Flow.Stability.Validate()
	}
	return stability.Preset(c.Flow.Variant)
}

// CaptureEngineConfig builds the capture engine configuration
func (c *Config) CaptureEngineConfig() capture.Config {
	return capture.Config{
		PreviewAspect: c.Capture.PreviewAspect,
		JPEGQuality:   c.Capture.JPEGQuality,
		SettleDelay:   c.Capture.SettleDelay,
	}
}

// OrchestratorConfig builds the protocol configuration
func (c *Config) OrchestratorConfig() liveness.Config {
	return liveness.Config{
		ProcessTag:  c.Liveness.ProcessTag,
		SettleDelay: c.Liveness.SettleDelay,
		Policy: liveness.StatusPolicy{
			AcceptCreated: *c.Liveness.AcceptCreated,
			AcceptExpired: *c.Liveness.AcceptExpired,
		},
	}
}

// HTTPClientConfig builds the REST adapter configuration
func (c *Config) HTTPClientConfig() liveness.HTTPClientConfig {
	return liveness.HTTPClientConfig{
		BaseURL:  c.Liveness.BaseURL,
		APIToken: c.Liveness.APIToken,
		Timeout:  c.Liveness.Timeout,
	}
}

// FlowConfig builds the capture flow configuration
func (c *Config) FlowConfig() facecapture.Config {
	cfg := facecapture.DefaultConfig()
	cfg.MaxAttempts = c.Flow.MaxAttempts
	cfg.AutoRetryOnReject = *c.Flow.AutoRetryOnReject
	cfg.SearchInterval = c.Flow.SearchInterval
	cfg.CountdownInterval = c.Flow.CountdownInterval
	return cfg
}

func (cc ConstraintsConfig) constraints() camera.Constraints {
	return camera.Constraints{
		Width:  cc.Width,
		Height: cc.Height,
		FPS:    cc.FPS,
		Facing: parseFacing(cc.Facing),
	}
}

func parseFacing(s string) camera.Facing {
	switch strings.ToLower(s) {
	case "user":
		return camera.FacingUser
	case "environment":
		return camera.FacingEnvironment
	default:
		return camera.FacingAny
	}
}
