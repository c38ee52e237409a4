package core

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDegenerateGeometry is returned when two points cannot define a
	// unique path, e.g. when they are antipodal.
	ErrDegenerateGeometry = errors.New("degenerate geometry")
	// ErrElevationUnavailable is returned when terrain elevations could not
	// be obtained for a path.
	ErrElevationUnavailable = errors.New("elevation unavailable")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid los config")
)

// Config holds the physical model and sampling parameters of the LOS engine.
type Config struct {
	EarthRadius float64 // metres

	// LightCurvature is the ratio of the light path's radius of curvature to
	// the Earth radius. +Inf means straight light; values <= 1 are rejected.
	LightCurvature float64

	// EndBuffer is the distance in metres at each end of a path where
	// obstructions are ignored.
	EndBuffer float64

	// SampleSpacing is the maximum distance in metres between samples in the
	// full-resolution stage.
	SampleSpacing float64
	// CoarseSamples is the number of samples in the coarse stage.
	CoarseSamples int
	// BatchSize caps the number of points per elevation request.
	BatchSize int

	CheckContrast bool
	// ContrastThreshold is the minimum apparent contrast, Vollmer 2020.
	ContrastThreshold float64
	// ScatterCoefficient is the sea-level scattering coefficient in 1/m.
	ScatterCoefficient float64
	// ScaleHeight is the atmospheric scale height in metres.
	ScaleHeight float64
	// ShadedLength is the length of path, measured back from the target,
	// that lies in the target's shadow. ShadeRatio is the irradiance of that
	// stretch relative to the lit path; 1 disables shading.
	ShadedLength float64
	ShadeRatio   float64
	// ContrastNodes is the number of quadrature nodes for optical depth.
	ContrastNodes int
}

// DefaultConfig returns the parameters used for published results.
func DefaultConfig() Config {
	return Config{
		EarthRadius:        EarthRadius,
		LightCurvature:     6.4,
		EndBuffer:          4000,
		SampleSpacing:      100,
		CoarseSamples:      100,
		BatchSize:          100,
		CheckContrast:      true,
		ContrastThreshold:  0.02,
		ScatterCoefficient: 0.00001139,
		ScaleHeight:        8500,
		ShadedLength:       0,
		ShadeRatio:         1,
		ContrastNodes:      32,
	}
}

// Validate checks that the configuration describes a usable model.
func (c Config) Validate() error {
	switch {
	case !(c.EarthRadius > 0) || math.IsInf(c.EarthRadius, 0):
		return fmt.Errorf("%w: earth radius %v", ErrInvalidConfig, c.EarthRadius)
	case !(c.LightCurvature > 1):
		return fmt.Errorf("%w: light curvature %v must be greater than 1", ErrInvalidConfig, c.LightCurvature)
	case c.EndBuffer < 0 || math.IsNaN(c.EndBuffer):
		return fmt.Errorf("%w: end buffer %v", ErrInvalidConfig, c.EndBuffer)
	case !(c.SampleSpacing > 0):
		return fmt.Errorf("%w: sample spacing %v", ErrInvalidConfig, c.SampleSpacing)
	case c.CoarseSamples < 0:
		return fmt.Errorf("%w: coarse samples %d", ErrInvalidConfig, c.CoarseSamples)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.CheckContrast {
		switch {
		case c.ContrastThreshold < 0 || c.ContrastThreshold >= 1:
			return fmt.Errorf("%w: contrast threshold %v", ErrInvalidConfig, c.ContrastThreshold)
		case c.ScatterCoefficient < 0:
			return fmt.Errorf("%w: scatter coefficient %v", ErrInvalidConfig, c.ScatterCoefficient)
		case !(c.ScaleHeight > 0):
			return fmt.Errorf("%w: scale height %v", ErrInvalidConfig, c.ScaleHeight)
		case c.ShadedLength < 0:
			return fmt.Errorf("%w: shaded length %v", ErrInvalidConfig, c.ShadedLength)
		case c.ShadeRatio < 0 || c.ShadeRatio > 1:
			return fmt.Errorf("%w: shade ratio %v", ErrInvalidConfig, c.ShadeRatio)
		case c.ContrastNodes <= 0:
			return fmt.Errorf("%w: contrast nodes %d", ErrInvalidConfig, c.ContrastNodes)
		}
	}
	return nil
}
