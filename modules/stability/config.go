package stability

import "fmt"

// Config parameterizes the controller per flow variant
type Config struct {
	// StartThreshold is the score a frame must exceed to start a countdown
	StartThreshold int `yaml:"start_threshold"`
	// RelaxedThreshold is the score a frame must exceed to keep a running
	// countdown alive
	RelaxedThreshold int `yaml:"relaxed_threshold"`
	// MissCeiling is the number of consecutive misses that cancels a countdown
	MissCeiling int `yaml:"miss_ceiling"`
	// StabilityTolerance is the maximum score delta between consecutive
	// present frames. 0 disables the stability check.
	StabilityTolerance int `yaml:"stability_tolerance"`
	// CountdownSeconds is the countdown length
	CountdownSeconds int `yaml:"countdown_seconds"`
}

// SignInConfig returns the lenient preset used by the biometric sign-in flow
func SignInConfig() Config {
	return Config{
		StartThreshold:     60,
		RelaxedThreshold:   50,
		MissCeiling:        1,
		StabilityTolerance: 0,
		CountdownSeconds:   5,
	}
}

// ResetBiometricConfig returns the strict preset used when re-enrolling
func ResetBiometricConfig() Config {
	return Config{
		StartThreshold:     70,
		RelaxedThreshold:   60,
		MissCeiling:        3,
		StabilityTolerance: 15,
		CountdownSeconds:   5,
	}
}

// Preset returns the named preset ("sign_in" or "reset_biometric")
func Preset(name string) (Config, error) {
	switch name {
	case "sign_in", "":
		return SignInConfig(), nil
	case "reset_biometric":
		return ResetBiometricConfig(), nil
	default:
		return Config{}, fmt.Errorf("stability: unknown preset %q", name)
	}
}

// Strict reports whether the stability check is enabled
func (c Config) Strict() bool {
	return c.StabilityTolerance > 0
}

// Validate checks threshold ordering and ranges
func (c Config) Validate() error {
	if c.StartThreshold < 0 || c.StartThreshold >= 100 {
		return fmt.Errorf("stability: start_threshold must be in [0, 100), got %d", c.StartThreshold)
	}
	if c.RelaxedThreshold < 0 || c.RelaxedThreshold > c.StartThreshold {
		return fmt.Errorf("stability: relaxed_threshold must be in [0, start_threshold], got %d", c.RelaxedThreshold)
	}
	if c.MissCeiling < 1 {
		return fmt.Errorf("stability: miss_ceiling must be at least 1, got %d", c.MissCeiling)
	}
	if c.StabilityTolerance < 0 {
		return fmt.Errorf("stability: stability_tolerance must not be negative, got %d", c.StabilityTolerance)
	}
	if c.CountdownSeconds < 1 {
		return fmt.Errorf("stability: countdown_seconds must be at least 1, got %d", c.CountdownSeconds)
	}
	return nil
}
