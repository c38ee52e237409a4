package core

import (
	"context"

	"github.com/jgbreault/PinnaclePoints/model"
)

// ElevationSource returns terrain elevations in metres for a batch of points,
// in the same order. Implementations must be safe for concurrent use.
type ElevationSource interface {
	Elevations(ctx context.Context, points []model.Point) ([]float64, error)
}

// ElevationFunc adapts a function to an ElevationSource.
type ElevationFunc func(ctx context.Context, points []model.Point) ([]float64, error)

// Elevations calls f.
func (f ElevationFunc) Elevations(ctx context.Context, points []model.Point) ([]float64, error) {
	return f(ctx, points)
}
