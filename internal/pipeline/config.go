package pipeline

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
)

var (
	// ErrInvalidConfig marks configuration rejected at the boundary.
	ErrInvalidConfig = errors.New("pipeline: invalid configuration")
	// ErrBusy is returned when a detection for the same stream is still outstanding.
	ErrBusy = errors.New("pipeline: detection already in flight")
	// ErrStopped is returned when the pipeline was stopped or reset while a
	// detection was running; its result is discarded.
	ErrStopped = errors.New("pipeline: stopped during detection")
)

// Config holds the runtime options. Both fields may change between cycles.
type Config struct {
	// ConfidenceThreshold hides detections scoring below it from rendering.
	// They are still ranked and counted.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// TargetFrameRate caps streaming cycles per second. 0 runs uncapped.
	TargetFrameRate float64 `yaml:"target_frame_rate"`
}

// DefaultConfig returns the settings the monitor UI starts with.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		TargetFrameRate:     20,
	}
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var err error
	if e := validateThreshold(c.ConfidenceThreshold); e != nil {
		err = multierr.Append(err, e)
	}
	if e := validateFrameRate(c.TargetFrameRate); e != nil {
		err = multierr.Append(err, e)
	}
	return err
}

func validateThreshold(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: confidence threshold %v outside [0, 1]", ErrInvalidConfig, v)
	}
	return nil
}

func validateFrameRate(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: target frame rate %v must be >= 0", ErrInvalidConfig, v)
	}
	return nil
}
