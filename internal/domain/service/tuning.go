package service

import (
	"context"

	"ForecastMCP/internal/domain/models"
)

// Objective scores one parameter set; lower is better for a minimize study.
type Objective interface {
	Evaluate(ctx context.Context, p models.ModelParams) (float64, error)
}

// ObjectiveFunc adapts a plain function to Objective.
type ObjectiveFunc func(ctx context.Context, p models.ModelParams) (float64, error)

func (f ObjectiveFunc) Evaluate(ctx context.Context, p models.ModelParams) (float64, error) {
	return f(ctx, p)
}

// EventSink receives study events; implementations must not block.
type EventSink interface {
	Emit(ev models.StudyEvent)
}
