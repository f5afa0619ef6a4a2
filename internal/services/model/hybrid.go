package model

import (
	"math/rand/v2"
	"sync"

	"ForecastMCP/internal/domain/models"
	applogger "ForecastMCP/pkg/logger"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Hybrid is the placeholder forecaster. Fit only reduces features;
// Predict averages two independent standard-normal draws per row.
type Hybrid struct {
	logger   *applogger.Logger
	pipeline *Pipeline

	mu        sync.Mutex
	params    models.ModelParams
	normal    distuv.Normal
	selection *models.Selection
}

// NewHybrid builds a model; a nil src seeds from the runtime.
func NewHybrid(logger *applogger.Logger, pipeline *Pipeline, params models.ModelParams, src rand.Source) *Hybrid {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Hybrid{
		logger:   logger,
		pipeline: pipeline,
		params:   params,
		normal:   distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

// Fit runs the reduction pipeline and records the surviving columns.
func (h *Hybrid) Fit(x [][]float64, y []float64, names []string) (*Result, error) {
	res, err := h.pipeline.Reduce(x, y, names)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	sel := res.Selection
	h.selection = &sel
	params := h.params
	h.mu.Unlock()

	rows, cols := 0, 0
	if res.X != nil {
		rows, cols = res.X.Dims()
	}
	h.logger.Info("model fit",
		applogger.Int("rows", rows),
		applogger.Int("features", cols),
		applogger.Strings("selected", res.Selection.Names),
		applogger.Int("max_depth", params.MaxDepth),
		applogger.Int("num_leaves", params.NumLeaves),
		applogger.Float64("reg_alpha", params.RegAlpha),
		applogger.Float64("reg_lambda", params.RegLambda),
	)
	return res, nil
}

// Predict returns n stub predictions.
func (h *Hybrid) Predict(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range out {
		out[i] = (h.normal.Rand() + h.normal.Rand()) / 2
	}
	return out
}

// PredictMatrix predicts one value per row of x.
func (h *Hybrid) PredictMatrix(x mat.Matrix) []float64 {
	if x == nil {
		return []float64{}
	}
	r, _ := x.Dims()
	return h.Predict(r)
}

func (h *Hybrid) Params() models.ModelParams {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.params
}

// SetParams installs tuned parameters for subsequent fits.
func (h *Hybrid) SetParams(p models.ModelParams) {
	h.mu.Lock()
	h.params = p
	h.mu.Unlock()
}

// Selection is the outcome of the last successful Fit, or nil.
func (h *Hybrid) Selection() *models.Selection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selection == nil {
		return nil
	}
	s := *h.selection
	return &s
}
