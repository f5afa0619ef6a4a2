package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	"ForecastMCP/internal/services/model"
	"ForecastMCP/pkg/jsonsafe"
	applogger "ForecastMCP/pkg/logger"
)

// StudyRunner runs one tuning study.
type StudyRunner interface {
	Run(ctx context.Context) (*models.StudyResult, error)
}

// StudyFactory builds a study; trials <= 0 means the configured default.
type StudyFactory func(trials int) StudyRunner

// OptimizeUseCase runs tuning studies and publishes their outcome to the
// study store, the result cache, the model and best_model.json.
type OptimizeUseCase struct {
	enabled       bool
	newStudy      StudyFactory
	store         domrepo.StudyStore
	cache         domrepo.ResultCache
	model         *model.Hybrid
	bestModelPath string
	version       string
	metrics       domrepo.Metrics
	logger        *applogger.Logger
	timeout       time.Duration
}

type OptimizeConfig struct {
	Enabled       bool
	BestModelPath string
	Version       string
	Timeout       time.Duration
}

func NewOptimizeUseCase(cfg OptimizeConfig, newStudy StudyFactory, store domrepo.StudyStore, cache domrepo.ResultCache, m *model.Hybrid, metrics domrepo.Metrics, logger *applogger.Logger) *OptimizeUseCase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &OptimizeUseCase{
		enabled:       cfg.Enabled,
		newStudy:      newStudy,
		store:         store,
		cache:         cache,
		model:         m,
		bestModelPath: cfg.BestModelPath,
		version:       cfg.Version,
		metrics:       metrics,
		logger:        logger,
		timeout:       cfg.Timeout,
	}
}

type OptimizeParams struct {
	Trials int
}

// Optimize returns the sanitized best parameters, or an empty object when
// tuning is switched off.
func (uc *OptimizeUseCase) Optimize(ctx context.Context, p OptimizeParams) (map[string]interface{}, error) {
	if !uc.enabled {
		uc.metrics.RecordToolCall("optimize", "disabled")
		return map[string]interface{}{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	res, err := uc.newStudy(p.Trials).Run(ctx)
	if err != nil {
		uc.metrics.RecordToolCall("optimize", "error")
		if errors.Is(err, models.ErrNoCompletedTrial) && res != nil {
			uc.persist(ctx, res)
		}
		return nil, fmt.Errorf("run study: %w", err)
	}
	uc.persist(ctx, res)

	best := *res.BestParams()
	uc.model.SetParams(best)
	if err := uc.writeBestModel(res); err != nil {
		uc.logger.Warn("best model not written", applogger.String("path", uc.bestModelPath), applogger.Error(err))
		uc.metrics.RecordError("best_model_write")
	}

	uc.metrics.RecordToolCall("optimize", "ok")
	out, _ := jsonsafe.Sanitize(best.AsMap()).(map[string]interface{})
	return out, nil
}

// Latest is the most recently cached study.
func (uc *OptimizeUseCase) Latest(ctx context.Context) (*models.StudyResult, error) {
	return uc.cache.Latest(ctx)
}

// persist is best effort: a storage outage must not fail the tool call.
func (uc *OptimizeUseCase) persist(ctx context.Context, res *models.StudyResult) {
	start := time.Now()
	if err := uc.store.SaveStudy(ctx, res); err != nil {
		uc.metrics.RecordError("study_store")
		uc.logger.Warn("study not stored", applogger.String("study_id", res.ID), applogger.Error(err))
	}
	uc.metrics.RecordLatency("study_store", time.Since(start).Seconds())

	if res.Best == nil {
		return
	}
	if err := uc.cache.SaveLatest(ctx, res); err != nil {
		uc.metrics.RecordError("study_cache")
		uc.logger.Warn("study not cached", applogger.String("study_id", res.ID), applogger.Error(err))
	}
}

type bestModelFile struct {
	Version   string      `json:"version"`
	StudyID   string      `json:"study_id"`
	Params    interface{} `json:"params"`
	Value     interface{} `json:"value"`
	Trials    int         `json:"trials"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (uc *OptimizeUseCase) writeBestModel(res *models.StudyResult) error {
	if uc.bestModelPath == "" {
		return nil
	}
	b, err := json.MarshalIndent(bestModelFile{
		Version:   uc.version,
		StudyID:   res.ID,
		Params:    jsonsafe.Sanitize(res.Best.Params.AsMap()),
		Value:     jsonsafe.Float(res.Best.Value),
		Trials:    len(res.Trials),
		UpdatedAt: res.Finished,
	}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(uc.bestModelPath, b)
}

// writeFileAtomic replaces path via a temp file in the same directory.
func writeFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
