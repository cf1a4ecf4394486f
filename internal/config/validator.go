package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/capture"
	"github.com/e7canasta/orion-liveness/modules/liveness"
	"github.com/e7canasta/orion-liveness/modules/presence"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate fills defaults and checks the configuration
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "liveness"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return err
	}
	if err := validateAnalysis(&cfg.Analysis); err != nil {
		return err
	}
	if err := validateCapture(&cfg.Capture); err != nil {
		return err
	}
	if err := validateLiveness(&cfg.Liveness); err != nil {
		return err
	}
	if err := validateFlow(cfg); err != nil {
		return err
	}
	if err := validateMQTT(&cfg.MQTT, cfg.InstanceID); err != nil {
		return err
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	switch c.Source {
	case "":
		c.Source = "gstreamer"
	case "gstreamer", "test":
	default:
		return fmt.Errorf("camera.source must be 'gstreamer' or 'test', got %q", c.Source)
	}

	if c.Source == "gstreamer" && c.Device == "" {
		c.Device = "/dev/video0"
	}
	if c.TestFPS <= 0 {
		c.TestFPS = 15
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 5 * time.Second
	}

	defaults := camera.DefaultManagerConfig()
	if c.Preferred == (ConstraintsConfig{}) {
		c.Preferred = fromConstraints(defaults.Preferred)
	}
	if c.Minimal == (ConstraintsConfig{}) {
		c.Minimal = fromConstraints(defaults.Minimal)
	}
	for name, cc := range map[string]ConstraintsConfig{"preferred": c.Preferred, "minimal": c.Minimal} {
		if cc.Width <= 0 || cc.Height <= 0 {
			return fmt.Errorf("camera.%s: width and height must be > 0", name)
		}
		if cc.FPS < 0 {
			return fmt.Errorf("camera.%s: fps must be >= 0", name)
		}
		switch strings.ToLower(cc.Facing) {
		case "", "any", "user", "environment":
		default:
			return fmt.Errorf("camera.%s: unknown facing %q", name, cc.Facing)
		}
	}

	if c.GraceDelay < 0 || c.HandoffDelay < 0 {
		return fmt.Errorf("camera delays must not be negative")
	}
	if c.GraceDelay == 0 {
		c.GraceDelay = defaults.GraceDelay
	}
	if c.HandoffDelay == 0 {
		c.HandoffDelay = defaults.HandoffDelay
	}
	return nil
}

func validateAnalysis(a *AnalysisConfig) error {
	d := presence.DefaultConfig()
	if a.Width == 0 && a.Height == 0 {
		a.Width, a.Height = d.Width, d.Height
	}
	if a.RadiusX == 0 {
		a.RadiusX = d.RadiusX
	}
	if a.RadiusY == 0 {
		a.RadiusY = d.RadiusY
	}
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("analysis: width and height must be > 0")
	}
	if a.RadiusX > 0.5 || a.RadiusY > 0.5 || a.RadiusX < 0 || a.RadiusY < 0 {
		return fmt.Errorf("analysis: radii must be in (0, 0.5]")
	}
	return nil
}

func validateCapture(c *CaptureConfig) error {
	d := capture.DefaultConfig()
	if c.PreviewAspect == 0 {
		c.PreviewAspect = d.PreviewAspect
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.PreviewAspect < 0 {
		return fmt.Errorf("capture.preview_aspect must be > 0")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality must be in [1, 100]")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("capture.settle_delay must not be negative")
	}
	return nil
}

func validateLiveness(l *LivenessConfig) error {
	if l.BaseURL == "" {
		return fmt.Errorf("liveness.base_url is required")
	}
	u, err := url.Parse(l.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("liveness.base_url must be an absolute URL, got %q", l.BaseURL)
	}

	d := liveness.DefaultConfig()
	if l.ProcessTag == "" {
		l.ProcessTag = d.ProcessTag
	}
	if l.Timeout <= 0 {
		l.Timeout = 15 * time.Second
	}
	if l.SettleDelay < 0 {
		return fmt.Errorf("liveness.settle_delay must not be negative")
	}
	if l.SettleDelay == 0 {
		l.SettleDelay = d.SettleDelay
	}
	if l.AcceptCreated == nil {
		l.AcceptCreated = boolPtr(d.Policy.AcceptCreated)
	}
	if l.AcceptExpired == nil {
		l.AcceptExpired = boolPtr(d.Policy.AcceptExpired)
	}
	return nil
}

func validateFlow(cfg *Config) error {
	f := &cfg.Flow
	if f.Variant == "" {
		f.Variant = "sign_in"
	}
	if _, err := cfg.StabilityConfig(); err != nil {
		return fmt.Errorf("flow: %w", err)
	}

	if f.MaxAttempts == 0 {
		f.MaxAttempts = 3
	}
	if f.MaxAttempts < 1 {
		return fmt.Errorf("flow.max_attempts must be >= 1")
	}
	if f.AutoRetryOnReject == nil {
		f.AutoRetryOnReject = boolPtr(true)
	}
	if f.SearchInterval == 0 {
		f.SearchInterval = 200 * time.Millisecond
	}
	if f.CountdownInterval == 0 {
		f.CountdownInterval = 400 * time.Millisecond
	}
	if f.SearchInterval < 0 || f.CountdownInterval < 0 {
		return fmt.Errorf("flow intervals must be > 0")
	}
	return nil
}

func validateMQTT(m *MQTTConfig, instanceID string) error {
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if m.Topic == "" {
		m.Topic = fmt.Sprintf("liveness/outcomes/%s", instanceID)
	}
	if m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	switch m.Encoding {
	case "":
		m.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.encoding must be 'json' or 'msgpack', got %q", m.Encoding)
	}

	if m.Control {
		if m.ControlTopic == "" {
			m.ControlTopic = fmt.Sprintf("liveness/control/%s", instanceID)
		}
		if m.ResponseTopic == "" {
			m.ResponseTopic = m.ControlTopic + "/responses"
		}
		if m.ResponseTopic == m.ControlTopic {
			return fmt.Errorf("mqtt.response_topic must differ from mqtt.control_topic")
		}
	}
	return nil
}

func fromConstraints(c camera.Constraints) ConstraintsConfig {
	return ConstraintsConfig{
		Width:  c.Width,
		Height: c.Height,
		FPS:    c.FPS,
		Facing: c.Facing.String(),
	}
}

func boolPtr(b bool) *bool { return &b }
