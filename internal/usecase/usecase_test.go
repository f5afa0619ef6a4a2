package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ForecastMCP/internal/domain/models"
	"ForecastMCP/internal/services/features"
	"ForecastMCP/internal/services/model"
	"ForecastMCP/pkg/cache"
	pkgkafka "ForecastMCP/pkg/kafka"
	applogger "ForecastMCP/pkg/logger"
	"ForecastMCP/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	res   *models.StudyResult
	err   error
	calls int
}

func (f *fakeRunner) Run(context.Context) (*models.StudyResult, error) {
	f.calls++
	return f.res, f.err
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*models.StudyResult
	err   error
}

func (f *fakeStore) Init(context.Context) error { return nil }
func (f *fakeStore) SaveStudy(_ context.Context, s *models.StudyResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, s)
	return f.err
}
func (f *fakeStore) Health(context.Context) error { return nil }
func (f *fakeStore) Close() error                 { return nil }

type fakeCache struct {
	latest *models.StudyResult
}

func (f *fakeCache) SaveLatest(_ context.Context, s *models.StudyResult) error {
	f.latest = s
	return nil
}

func (f *fakeCache) Latest(context.Context) (*models.StudyResult, error) {
	if f.latest == nil {
		return nil, models.ErrStudyNotFound
	}
	return f.latest, nil
}

func newModel() *model.Hybrid {
	return model.NewHybrid(applogger.Nop(), model.NewPipeline(0.01, 0.25),
		models.ModelParams{MaxDepth: 5, NumLeaves: 20, RegAlpha: 0.1, RegLambda: 0.1}, nil)
}

func studyWithBest(p models.ModelParams, value float64) *models.StudyResult {
	best := models.Trial{Number: 0, Params: p, Value: value, State: models.TrialComplete}
	return &models.StudyResult{ID: "study-1", Direction: models.Minimize, Trials: []models.Trial{best}, Best: &best, Finished: time.Now().UTC()}
}

func newOptimize(t *testing.T, enabled bool, runner *fakeRunner) (*OptimizeUseCase, *fakeStore, *fakeCache, *model.Hybrid, string) {
	t.Helper()
	store, rc, m := &fakeStore{}, &fakeCache{}, newModel()
	path := filepath.Join(t.TempDir(), "data", "best_model.json")
	factory := func(int) StudyRunner { return runner }
	uc := NewOptimizeUseCase(OptimizeConfig{Enabled: enabled, BestModelPath: path, Version: "v1"},
		factory, store, rc, m, metrics.Nop{}, applogger.Nop())
	return uc, store, rc, m, path
}

func TestOptimizeDisabledReturnsEmptyObject(t *testing.T) {
	runner := &fakeRunner{}
	uc, store, _, _, _ := newOptimize(t, false, runner)

	out, err := uc.Optimize(context.Background(), OptimizeParams{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{}, out)
	assert.Zero(t, runner.calls)
	assert.Empty(t, store.saved)
}

func TestOptimizePublishesBestParams(t *testing.T) {
	best := models.ModelParams{MaxDepth: 7, NumLeaves: 11, RegAlpha: 0.25, RegLambda: 0.75}
	runner := &fakeRunner{res: studyWithBest(best, -0.19)}
	uc, store, rc, m, path := newOptimize(t, true, runner)

	out, err := uc.Optimize(context.Background(), OptimizeParams{Trials: 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"max_depth": 7, "num_leaves": 11, "reg_alpha": 0.25, "reg_lambda": 0.75,
	}, out)

	assert.Len(t, store.saved, 1)
	require.NotNil(t, rc.latest)
	assert.Equal(t, "study-1", rc.latest.ID)
	assert.Equal(t, best, m.Params())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var file map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &file))
	assert.Equal(t, "v1", file["version"])
	assert.Equal(t, "study-1", file["study_id"])
	assert.InDelta(t, -0.19, file["value"], 1e-12)

	latest, err := uc.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "study-1", latest.ID)
}

func TestOptimizeSanitizesNonFiniteParams(t *testing.T) {
	runner := &fakeRunner{res: studyWithBest(models.ModelParams{MaxDepth: 3, NumLeaves: 10, RegAlpha: math.NaN(), RegLambda: math.Inf(1)}, math.Inf(-1))}
	uc, _, _, _, path := newOptimize(t, true, runner)

	out, err := uc.Optimize(context.Background(), OptimizeParams{})
	require.NoError(t, err)
	assert.Nil(t, out["reg_alpha"])
	assert.Equal(t, 1e9, out["reg_lambda"])
	_, err = json.Marshal(out)
	assert.NoError(t, err)

	// best_model.json stays valid JSON too
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"value": -1000000000`)
}

func TestOptimizeNoCompletedTrial(t *testing.T) {
	res := &models.StudyResult{ID: "failed", Trials: []models.Trial{{State: models.TrialFailed}}}
	runner := &fakeRunner{res: res, err: models.ErrNoCompletedTrial}
	uc, store, rc, _, path := newOptimize(t, true, runner)

	_, err := uc.Optimize(context.Background(), OptimizeParams{})
	assert.ErrorIs(t, err, models.ErrNoCompletedTrial)
	assert.Len(t, store.saved, 1)
	assert.Nil(t, rc.latest)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOptimizeStoreFailureDoesNotFailCall(t *testing.T) {
	runner := &fakeRunner{res: studyWithBest(models.ModelParams{MaxDepth: 4, NumLeaves: 15}, -0.1)}
	uc, store, _, _, _ := newOptimize(t, true, runner)
	store.err = errors.New("clickhouse down")

	out, err := uc.Optimize(context.Background(), OptimizeParams{})
	require.NoError(t, err)
	assert.Equal(t, 4, out["max_depth"])
}

func TestWriteCodeRoundTripsArbitraryFilenames(t *testing.T) {
	uc, err := NewWriteCodeUseCase("", 0, metrics.Nop{}, applogger.Nop())
	require.NoError(t, err)
	dir := t.TempDir()

	cases := map[string]string{
		"plain.py":             "print('hi')\n",
		"with space.txt":       "a b\r\nc",
		"ünïcødé-名前.go":       "package main\n\nfunc main() {}\n",
		".hidden":              "",
		"weird;name&$(x).json": `{"k": [1, 2, null]}`,
	}
	for name, code := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, uc.Write(context.Background(), path, code))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, code, string(b), name)
	}
}

func TestWriteCodeOverwrites(t *testing.T) {
	uc, err := NewWriteCodeUseCase("", 0, metrics.Nop{}, applogger.Nop())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "f.txt")

	require.NoError(t, uc.Write(context.Background(), path, "a much longer first version"))
	require.NoError(t, uc.Write(context.Background(), path, "short"))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "short", string(b))
}

func TestWriteCodeSandbox(t *testing.T) {
	root := t.TempDir()
	uc, err := NewWriteCodeUseCase(root, 16, metrics.Nop{}, applogger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, uc.Write(ctx, "pkg/sub/main.go", "package sub"))
	b, err := os.ReadFile(filepath.Join(root, "pkg", "sub", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package sub", string(b))

	require.NoError(t, uc.Write(ctx, filepath.Join(root, "abs.txt"), "ok"))

	for _, name := range []string{"../escape.txt", "a/../../escape.txt", "/etc/passwd", "."} {
		err := uc.Write(ctx, name, "x")
		assert.ErrorIs(t, err, models.ErrPathOutsideRoot, name)
	}

	err = uc.Write(ctx, "big.txt", "0123456789abcdefXYZ")
	assert.ErrorIs(t, err, models.ErrCodeTooLarge)
}

func ptr(v float64) *float64 { return &v }

func newFit(t *testing.T, m *model.Hybrid, path string) *FitUseCase {
	t.Helper()
	return NewFitUseCase(FitConfig{FeatureNames: []string{"a", "b", "c", "d"}, Timeframe: "8h", FeaturesPath: path, Version: "v1"},
		m, features.NewVaderScorer(), metrics.Nop{}, applogger.Nop())
}

func TestFitMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selected_features.json")
	uc := newFit(t, newModel(), path)

	req := &models.FitRequest{
		X: [][]*float64{
			{ptr(1), ptr(5), nil},
			{ptr(2), ptr(5), nil},
			{nil, ptr(5), nil},
			{ptr(4), ptr(5), nil},
			{ptr(5), ptr(5), nil},
			{ptr(6.5), ptr(5), nil},
		},
		Y:       []float64{1, 2, 3, 4, 5, 6},
		Persist: true,
	}
	resp, err := uc.Fit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, resp.Indices)
	assert.Equal(t, []string{"a"}, resp.Names)
	assert.Equal(t, 6, resp.Rows)
	assert.Equal(t, 1, resp.Cols)
	assert.Equal(t, model.DropLowVariance, resp.Dropped["b"])
	assert.Equal(t, model.DropAllMissing, resp.Dropped["c"])
	assert.Equal(t, 5, resp.Params.MaxDepth)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var file selectedFeaturesFile
	require.NoError(t, json.Unmarshal(b, &file))
	assert.Equal(t, []string{"a"}, file.Features)
	assert.Equal(t, "v1", file.Version)
}

func TestFitMatrixShapeErrors(t *testing.T) {
	uc := newFit(t, newModel(), "")

	_, err := uc.Fit(context.Background(), &models.FitRequest{
		X: [][]*float64{{ptr(1)}, {ptr(2), ptr(3)}},
		Y: []float64{1, 2},
	})
	assert.ErrorIs(t, err, models.ErrInvalidShape)

	_, err = uc.Fit(context.Background(), &models.FitRequest{
		X: [][]*float64{{ptr(1)}, {ptr(2)}},
		Y: []float64{1},
	})
	assert.ErrorIs(t, err, models.ErrInvalidShape)
}

func TestFitCandles(t *testing.T) {
	uc := newFit(t, newModel(), "")
	candles := make([]models.Candle, 30)
	headlines := make([]string, 30)
	for i := range candles {
		candles[i] = models.Candle{Close: 100 + math.Sin(float64(i)), Volume: 10 + float64(i%3)}
		headlines[i] = "quiet day"
	}
	headlines[10] = "bitcoin rally"

	resp, err := uc.Fit(context.Background(), &models.FitRequest{Candles: candles, Headlines: headlines})
	require.NoError(t, err)
	assert.Equal(t, 28, resp.Rows)
	for _, name := range resp.Names {
		assert.Contains(t, features.Columns, name)
	}

	_, err = uc.Fit(context.Background(), &models.FitRequest{Candles: candles, Headlines: headlines[:3]})
	assert.ErrorIs(t, err, models.ErrInvalidShape)
}

func TestPredict(t *testing.T) {
	uc := newFit(t, newModel(), "")
	resp := uc.Predict(context.Background(), &models.PredictRequest{Rows: 4})
	assert.Len(t, resp.Predictions, 4)
}

func newTuneHandler(t *testing.T, runner *fakeRunner) (*KafkaTuneHandler, *fakeStore) {
	t.Helper()
	uc, store, _, _, _ := newOptimize(t, true, runner)
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	return NewKafkaTuneHandler("forecast.requests", uc, mc, time.Minute, metrics.Nop{}, applogger.Nop()), store
}

func TestKafkaTuneHandlerRunsOncePerRequest(t *testing.T) {
	runner := &fakeRunner{res: studyWithBest(models.ModelParams{MaxDepth: 4, NumLeaves: 12}, -0.1)}
	h, store := newTuneHandler(t, runner)
	assert.Equal(t, "forecast.requests", h.Topic())

	msg := []byte(`{"request_id":"r-1","n_trials":5}`)
	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))

	assert.Equal(t, 1, runner.calls)
	assert.Len(t, store.saved, 1)
}

func TestKafkaTuneHandlerRejectsBadMessages(t *testing.T) {
	h, _ := newTuneHandler(t, &fakeRunner{})

	var he *pkgkafka.HookError
	err := h.Handle(context.Background(), []byte(`{not json`))
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_MALFORMED", he.Code)

	err = h.Handle(context.Background(), []byte(`{"n_trials":5}`))
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_VALIDATION", he.Code)

	err = h.Handle(context.Background(), []byte(`{"request_id":"x","n_trials":5000}`))
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_VALIDATION", he.Code)
}

func TestKafkaTuneHandlerReleasesLockOnFailure(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	h, _ := newTuneHandler(t, runner)
	msg := []byte(`{"request_id":"r-2"}`)

	assert.Error(t, h.Handle(context.Background(), msg))
	assert.Error(t, h.Handle(context.Background(), msg))
	assert.Equal(t, 2, runner.calls)

	runner.err = models.ErrNoCompletedTrial
	runner.res = &models.StudyResult{ID: "none"}
	var he *pkgkafka.HookError
	require.ErrorAs(t, h.Handle(context.Background(), msg), &he)
	assert.Equal(t, "ERR_NO_TRIAL", he.Code)
}
