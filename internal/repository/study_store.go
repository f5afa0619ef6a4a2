package repository

import (
	"context"
	"fmt"
	"time"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	pkgch "ForecastMCP/pkg/clickhouse"
	applogger "ForecastMCP/pkg/logger"
)

const trialsTable = "tuning_trials"

// CHStudyStore implements StudyStore backed by ClickHouse.
type CHStudyStore struct {
	ch *pkgch.Client
	l  *applogger.Logger
}

func NewCHStudyStore(ch *pkgch.Client) *CHStudyStore {
	return &CHStudyStore{ch: ch}
}

// SetLogger injects a structured logger.
func (s *CHStudyStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHStudyStore) table() string {
	return s.ch.Database() + "." + trialsTable
}

func (s *CHStudyStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.ch.Database()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            study_id    String,
            trial       UInt32,
            state       LowCardinality(String),
            value       Float64,
            max_depth   UInt8,
            num_leaves  UInt16,
            reg_alpha   Float64,
            reg_lambda  Float64,
            is_best     UInt8,
            error       String,
            started     DateTime64(3),
            finished    DateTime64(3)
        ) ENGINE = MergeTree
        ORDER BY (study_id, trial)`, s.table()),
	})
}

// SaveStudy writes every trial of the study as one block.
func (s *CHStudyStore) SaveStudy(ctx context.Context, study *models.StudyResult) error {
	if study == nil || len(study.Trials) == 0 {
		return nil
	}
	start := time.Now()
	best := -1
	if study.Best != nil {
		best = study.Best.Number
	}

	rows := make([][]interface{}, 0, len(study.Trials))
	for _, t := range study.Trials {
		isBest := uint8(0)
		if t.Number == best && t.State == models.TrialComplete {
			isBest = 1
		}
		rows = append(rows, []interface{}{
			study.ID,
			uint32(t.Number),
			string(t.State),
			t.Value,
			uint8(t.Params.MaxDepth),
			uint16(t.Params.NumLeaves),
			t.Params.RegAlpha,
			t.Params.RegLambda,
			isBest,
			t.Error,
			t.Started,
			t.Finished,
		})
	}

	q := fmt.Sprintf("INSERT INTO %s (study_id, trial, state, value, max_depth, num_leaves, reg_alpha, reg_lambda, is_best, error, started, finished)", s.table())
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse save_study error",
				applogger.String("study_id", study.ID),
				applogger.Int("rows", len(rows)),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("save study %s: %w", study.ID, err)
	}
	if s.l != nil {
		s.l.Info("clickhouse save_study ok",
			applogger.String("study_id", study.ID),
			applogger.Int("rows", len(rows)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHStudyStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHStudyStore) Close() error {
	return s.ch.Close()
}

// NopStudyStore is used when ClickHouse is disabled.
type NopStudyStore struct{}

func (NopStudyStore) Init(context.Context) error                           { return nil }
func (NopStudyStore) SaveStudy(context.Context, *models.StudyResult) error { return nil }
func (NopStudyStore) Health(context.Context) error                         { return nil }
func (NopStudyStore) Close() error                                         { return nil }

var (
	_ domrepo.StudyStore = (*CHStudyStore)(nil)
	_ domrepo.StudyStore = NopStudyStore{}
)
