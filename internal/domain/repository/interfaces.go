package repository

import (
	"context"

	"ForecastMCP/internal/domain/models"
)

// StudyStore persists finished studies.
type StudyStore interface {
	Init(ctx context.Context) error
	SaveStudy(ctx context.Context, s *models.StudyResult) error
	Health(ctx context.Context) error
	Close() error
}

// ResultCache keeps the latest study result for quick reads.
type ResultCache interface {
	SaveLatest(ctx context.Context, s *models.StudyResult) error
	// Latest returns models.ErrStudyNotFound when nothing is cached.
	Latest(ctx context.Context) (*models.StudyResult, error)
}

// EventPublisher ships study events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.StudyEvent) error
	Close() error
}

type Metrics interface {
	RecordTrial(state string, value float64)
	RecordStudy(completed int, bestValue float64, seconds float64)
	RecordToolCall(tool, result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
