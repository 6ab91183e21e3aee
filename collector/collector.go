package collector

import (
	"context"

	"github.com/ftahirops/hostwatch/model"
)

// Source produces one MetricSample per tick.
//
// Next blocks until the next tick boundary for live sources, or returns the
// next historical row immediately for replay sources. It returns io.EOF when
// a finite input is exhausted, ctx.Err() on cancellation, and any other
// error only for a fatal failure of the sampling subsystem.
type Source interface {
	Next(ctx context.Context) (model.MetricSample, error)
}
