package tuning

import (
	"context"
	"errors"
	"sync"
	"time"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	"ForecastMCP/internal/domain/service"
	applogger "ForecastMCP/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type StudyConfig struct {
	Trials      int
	Parallelism int
	Seed        int64
	Space       models.SearchSpace
	Direction   models.Direction
}

// Study runs a fixed number of sampled trials against an objective.
// Sampling happens on the calling goroutine so a seed reproduces the same
// parameter sequence at any parallelism.
type Study struct {
	cfg       StudyConfig
	objective service.Objective
	logger    *applogger.Logger
	metrics   domrepo.Metrics
	sink      service.EventSink
}

type StudyOption func(*Study)

func WithEventSink(sink service.EventSink) StudyOption {
	return func(s *Study) { s.sink = sink }
}

func WithMetrics(m domrepo.Metrics) StudyOption {
	return func(s *Study) { s.metrics = m }
}

func NewStudy(cfg StudyConfig, objective service.Objective, logger *applogger.Logger, opts ...StudyOption) *Study {
	if cfg.Trials <= 0 {
		cfg.Trials = 20
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Direction == "" {
		cfg.Direction = models.Minimize
	}
	if cfg.Space == (models.SearchSpace{}) {
		cfg.Space = models.DefaultSearchSpace()
	}
	s := &Study{cfg: cfg, objective: objective, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run evaluates every trial. A failing trial is recorded and skipped.
// Cancelling ctx stops launching trials and returns the context error.
func (s *Study) Run(ctx context.Context) (*models.StudyResult, error) {
	res := &models.StudyResult{
		ID:        uuid.NewString(),
		Direction: s.cfg.Direction,
		Trials:    make([]models.Trial, s.cfg.Trials),
		Started:   time.Now().UTC(),
	}
	log := s.logger.With(applogger.String("study_id", res.ID))
	log.Info("study started",
		applogger.Int("trials", s.cfg.Trials),
		applogger.Int("parallelism", s.cfg.Parallelism),
	)

	sampler := NewSampler(s.cfg.Space, s.cfg.Seed)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	var mu sync.Mutex
	launched := 0
	for i := 0; i < s.cfg.Trials; i++ {
		if gctx.Err() != nil {
			break
		}
		params := sampler.Sample()
		n := i
		launched++
		g.Go(func() error {
			t := s.runTrial(gctx, res.ID, n, params)
			mu.Lock()
			res.Trials[n] = t
			mu.Unlock()
			if t.State == models.TrialComplete {
				s.emit(models.StudyEvent{Type: models.EventTrialCompleted, StudyID: res.ID, Trial: &t, Timestamp: t.Finished})
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Trials = res.Trials[:launched]
	res.Finished = time.Now().UTC()

	if err := ctx.Err(); err != nil {
		log.Warn("study cancelled", applogger.Int("launched", launched), applogger.Error(err))
		return nil, err
	}

	res.Best = s.best(res.Trials)
	completed := res.Completed()
	elapsed := res.Finished.Sub(res.Started)
	var bestValue float64
	if res.Best != nil {
		bestValue = res.Best.Value
	}
	if s.metrics != nil {
		s.metrics.RecordStudy(completed, bestValue, elapsed.Seconds())
	}

	ev := models.StudyEvent{Type: models.EventStudyCompleted, StudyID: res.ID, Timestamp: res.Finished}
	if res.Best != nil {
		ev.Best = res.BestParams()
		ev.BestValue = &bestValue
	}
	s.emit(ev)

	log.Info("study finished",
		applogger.Int("completed", completed),
		applogger.Int("failed", len(res.Trials)-completed),
		applogger.Float64("best_value", bestValue),
		applogger.Duration("elapsed_ms", elapsed),
	)
	if res.Best == nil {
		return res, models.ErrNoCompletedTrial
	}
	return res, nil
}

func (s *Study) runTrial(ctx context.Context, studyID string, n int, p models.ModelParams) models.Trial {
	t := models.Trial{StudyID: studyID, Number: n, Params: p, Started: time.Now().UTC()}
	v, err := s.objective.Evaluate(ctx, p)
	t.Finished = time.Now().UTC()
	if err != nil {
		t.State = models.TrialFailed
		t.Error = err.Error()
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("trial failed",
				applogger.String("study_id", studyID),
				applogger.Int("trial", n),
				applogger.Error(err),
			)
		}
	} else {
		t.State = models.TrialComplete
		t.Value = v
	}
	if s.metrics != nil {
		s.metrics.RecordTrial(string(t.State), t.Value)
	}
	return t
}

// best picks the lowest (or highest) completed value; ties go to the earliest trial.
func (s *Study) best(trials []models.Trial) *models.Trial {
	var best *models.Trial
	for i := range trials {
		t := &trials[i]
		if t.State != models.TrialComplete {
			continue
		}
		if best == nil || s.better(t.Value, best.Value) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (s *Study) better(a, b float64) bool {
	if s.cfg.Direction == models.Maximize {
		return a > b
	}
	return a < b
}

func (s *Study) emit(ev models.StudyEvent) {
	if s.sink != nil {
		s.sink.Emit(ev)
	}
}
