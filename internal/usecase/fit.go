package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	"ForecastMCP/internal/services/features"
	"ForecastMCP/internal/services/model"
	applogger "ForecastMCP/pkg/logger"
)

// FitUseCase turns a request into a feature matrix and runs the model's
// reduction pipeline on it.
type FitUseCase struct {
	model        *model.Hybrid
	scorer       features.Scorer
	featureNames []string
	timeframe    string
	featuresPath string
	version      string
	metrics      domrepo.Metrics
	logger       *applogger.Logger
}

type FitConfig struct {
	// FeatureNames label matrix columns when the request carries none.
	FeatureNames []string
	Timeframe    string
	FeaturesPath string
	Version      string
}

func NewFitUseCase(cfg FitConfig, m *model.Hybrid, scorer features.Scorer, metrics domrepo.Metrics, logger *applogger.Logger) *FitUseCase {
	if scorer == nil {
		scorer = features.NeutralScorer{}
	}
	return &FitUseCase{
		model:        m,
		scorer:       scorer,
		featureNames: cfg.FeatureNames,
		timeframe:    cfg.Timeframe,
		featuresPath: cfg.FeaturesPath,
		version:      cfg.Version,
		metrics:      metrics,
		logger:       logger,
	}
}

func (uc *FitUseCase) Fit(ctx context.Context, req *models.FitRequest) (*models.FitResponse, error) {
	start := time.Now()
	x, y, names, err := uc.matrix(req)
	if err != nil {
		uc.metrics.RecordToolCall("fit", "invalid")
		return nil, err
	}

	res, err := uc.model.Fit(x, y, names)
	if err != nil {
		uc.metrics.RecordToolCall("fit", "invalid")
		return nil, fmt.Errorf("fit: %w", err)
	}
	uc.metrics.RecordLatency("fit", time.Since(start).Seconds())

	if req.Persist {
		if err := uc.writeSelection(res.Selection); err != nil {
			uc.metrics.RecordToolCall("fit", "error")
			return nil, fmt.Errorf("persist selected features: %w", err)
		}
	}
	uc.metrics.RecordToolCall("fit", "ok")
	return &models.FitResponse{Selection: res.Selection, Params: uc.model.Params()}, nil
}

// Predict returns n stub predictions from the current model.
func (uc *FitUseCase) Predict(ctx context.Context, req *models.PredictRequest) *models.PredictResponse {
	uc.metrics.RecordToolCall("predict", "ok")
	return &models.PredictResponse{Predictions: uc.model.Predict(req.Rows)}
}

func (uc *FitUseCase) matrix(req *models.FitRequest) ([][]float64, []float64, []string, error) {
	if len(req.Candles) > 0 {
		var sentiment []float64
		if len(req.Headlines) > 0 {
			if len(req.Headlines) != len(req.Candles) {
				return nil, nil, nil, fmt.Errorf("%w: %d headlines for %d candles", models.ErrInvalidShape, len(req.Headlines), len(req.Candles))
			}
			sentiment = features.ScoreAll(uc.scorer, req.Headlines)
		}
		return features.BuildMatrix(req.Candles, sentiment, uc.timeframe)
	}

	x := make([][]float64, len(req.X))
	for i, row := range req.X {
		x[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				x[i][j] = math.NaN()
				continue
			}
			x[i][j] = *v
		}
	}
	names := req.Columns
	if len(names) == 0 && len(x) > 0 && len(x[0]) <= len(uc.featureNames) {
		names = uc.featureNames[:len(x[0])]
	}
	return x, req.Y, names, nil
}

type selectedFeaturesFile struct {
	Version   string            `json:"version"`
	Features  []string          `json:"features"`
	Indices   []int             `json:"indices"`
	Dropped   map[string]string `json:"dropped,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (uc *FitUseCase) writeSelection(sel models.Selection) error {
	if uc.featuresPath == "" {
		return nil
	}
	b, err := json.MarshalIndent(selectedFeaturesFile{
		Version:   uc.version,
		Features:  sel.Names,
		Indices:   sel.Indices,
		Dropped:   sel.Dropped,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(uc.featuresPath, b)
}
