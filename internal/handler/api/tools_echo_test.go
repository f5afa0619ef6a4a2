package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ForecastMCP/internal/domain/models"
	"ForecastMCP/internal/repository"
	"ForecastMCP/internal/services/features"
	"ForecastMCP/internal/services/model"
	"ForecastMCP/internal/usecase"
	"ForecastMCP/pkg/cache"
	xhttp "ForecastMCP/pkg/http"
	xlogger "ForecastMCP/pkg/logger"
	"ForecastMCP/pkg/metrics"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	res *models.StudyResult
	err error
}

func (s stubRunner) Run(context.Context) (*models.StudyResult, error) { return s.res, s.err }

type testEnv struct {
	e    *echo.Echo
	root string
}

type envOptions struct {
	enabled   bool
	runner    stubRunner
	writeRoot string
	deps      map[string]Pinger
}

func newEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()
	l := xlogger.Nop()
	m := model.NewHybrid(l, model.NewPipeline(0.01, 0.25), models.ModelParams{MaxDepth: 5, NumLeaves: 20, RegAlpha: 0.1, RegLambda: 0.1}, nil)

	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	results := repository.NewCacheResultStore(mc, time.Minute)

	dataDir := t.TempDir()
	opt := usecase.NewOptimizeUseCase(
		usecase.OptimizeConfig{Enabled: o.enabled, BestModelPath: filepath.Join(dataDir, "best_model.json"), Version: "test-version"},
		func(int) usecase.StudyRunner { return o.runner },
		repository.NopStudyStore{}, results, m, metrics.Nop{}, l,
	)
	fit := usecase.NewFitUseCase(usecase.FitConfig{Timeframe: "8h", FeatureNames: features.Columns}, m, features.NeutralScorer{}, metrics.Nop{}, l)
	writer, err := usecase.NewWriteCodeUseCase(o.writeRoot, 1<<20, metrics.Nop{}, l)
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = xhttp.ErrorHandler
	NewToolsEchoHandler(l, "test-version", opt, fit, writer, nil, o.deps).RegisterRoutes(e)
	return &testEnv{e: e, root: dataDir}
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bestStudy(p models.ModelParams, v float64) *models.StudyResult {
	tr := models.Trial{Number: 0, Params: p, Value: v, State: models.TrialComplete}
	return &models.StudyResult{ID: "study-x", Trials: []models.Trial{tr}, Best: &tr, Finished: time.Now()}
}

func TestIndex(t *testing.T) {
	env := newEnv(t, envOptions{})
	rec := env.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MCP Version: test-version", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextPlain))
}

func TestManifestListsTools(t *testing.T) {
	env := newEnv(t, envOptions{})
	rec := env.do(http.MethodGet, "/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tools []Tool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{"optimize", "write_code", "fit", "predict"}, names)
	assert.Equal(t, []interface{}{"filename", "code"}, tools[1].Parameters["required"])
}

func TestOptimizeDisabled(t *testing.T) {
	env := newEnv(t, envOptions{enabled: false})
	rec := env.do(http.MethodPost, "/tool/optimize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestOptimizeReturnsSanitizedParams(t *testing.T) {
	runner := stubRunner{res: bestStudy(models.ModelParams{MaxDepth: 6, NumLeaves: 18, RegAlpha: math.NaN(), RegLambda: math.Inf(-1)}, -0.1)}
	env := newEnv(t, envOptions{enabled: true, runner: runner})

	rec := env.do(http.MethodPost, "/tool/optimize", `{"n_trials": 3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"max_depth":6,"num_leaves":18,"reg_alpha":null,"reg_lambda":-1000000000}`, rec.Body.String())

	_, err := os.Stat(filepath.Join(env.root, "best_model.json"))
	assert.NoError(t, err)
}

func TestOptimizeValidatesBody(t *testing.T) {
	env := newEnv(t, envOptions{enabled: true})
	rec := env.do(http.MethodPost, "/tool/optimize", `{"n_trials": 0.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/tool/optimize", `{"n_trials": 5000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptimizeRejectsMalformedJSON(t *testing.T) {
	env := newEnv(t, envOptions{enabled: true, runner: stubRunner{res: bestStudy(models.ModelParams{MaxDepth: 4, NumLeaves: 31}, 0.6)}})
	rec := env.do(http.MethodPost, "/tool/optimize", `{"n_trials":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := os.Stat(filepath.Join(env.root, "best_model.json"))
	assert.True(t, os.IsNotExist(err), "no study should have run")
}

func TestOptimizeAllTrialsFailed(t *testing.T) {
	env := newEnv(t, envOptions{enabled: true, runner: stubRunner{res: &models.StudyResult{ID: "s"}, err: models.ErrNoCompletedTrial}})
	rec := env.do(http.MethodPost, "/tool/optimize", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, float64(http.StatusServiceUnavailable), decode(t, rec)["status"])
}

func TestOptimizeUnexpectedError(t *testing.T) {
	env := newEnv(t, envOptions{enabled: true, runner: stubRunner{err: errors.New("boom")}})
	rec := env.do(http.MethodPost, "/tool/optimize", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLatest(t *testing.T) {
	runner := stubRunner{res: bestStudy(models.ModelParams{MaxDepth: 4, NumLeaves: 14, RegAlpha: 0.5, RegLambda: 0.5}, -0.2)}
	env := newEnv(t, envOptions{enabled: true, runner: runner})

	rec := env.do(http.MethodGet, "/tool/optimize/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/tool/optimize", "").Code)

	rec = env.do(http.MethodGet, "/tool/optimize/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "study-x", body["study_id"])
	assert.Equal(t, -0.2, body["value"])
	assert.Equal(t, float64(4), body["params"].(map[string]interface{})["max_depth"])
}

func TestWriteCodeRoundTrip(t *testing.T) {
	env := newEnv(t, envOptions{})
	dir := t.TempDir()

	for _, name := range []string{"main.py", "dir with spaces.txt", "ключ.go", "a-b_c.d.e"} {
		path := filepath.Join(dir, name)
		code := "line one\n\tline \"two\"\n" + name
		body, err := json.Marshal(map[string]string{"filename": path, "code": code})
		require.NoError(t, err)

		rec := env.do(http.MethodPost, "/tool/write_code", string(body))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"status":"written"}`, rec.Body.String())

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, code, string(got))
	}
}

func TestWriteCodeValidation(t *testing.T) {
	env := newEnv(t, envOptions{})

	rec := env.do(http.MethodPost, "/tool/write_code", `{"filename":"x.txt"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"code"`)

	rec = env.do(http.MethodPost, "/tool/write_code", `{"filename":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_MALFORMED")

	// empty code is valid and creates an empty file
	path := filepath.Join(t.TempDir(), "empty.txt")
	body, _ := json.Marshal(map[string]string{"filename": path, "code": ""})
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/tool/write_code", string(body)).Code)
}

func TestWriteCodeFailureIs500(t *testing.T) {
	env := newEnv(t, envOptions{})
	path := filepath.Join(t.TempDir(), "missing-dir", "x.txt")
	body, _ := json.Marshal(map[string]string{"filename": path, "code": "x"})
	rec := env.do(http.MethodPost, "/tool/write_code", string(body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteCodeSandboxEscape(t *testing.T) {
	env := newEnv(t, envOptions{writeRoot: t.TempDir()})
	rec := env.do(http.MethodPost, "/tool/write_code", `{"filename":"../../etc/x","code":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"filename"`)
}

func TestFitMatrix(t *testing.T) {
	env := newEnv(t, envOptions{})
	rec := env.do(http.MethodPost, "/tool/fit", `{
		"x": [[1, 7], [2, 7], [null, 7], [4, 7], [5, 7]],
		"y": [1, 2, 3, 4, 5],
		"columns": ["signal", "flat"]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, []interface{}{"signal"}, body["names"])
	assert.Equal(t, []interface{}{float64(0)}, body["indices"])
	assert.Equal(t, float64(5), body["rows"])
}

func TestFitErrors(t *testing.T) {
	env := newEnv(t, envOptions{})

	rec := env.do(http.MethodPost, "/tool/fit", `{"x": [[1], [2, 3]], "y": [1, 2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/tool/fit", `{"columns": ["a"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/tool/fit", `{"candles": [{"close": 1}, {"close": -2}, {"close": 3}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredict(t *testing.T) {
	env := newEnv(t, envOptions{})
	rec := env.do(http.MethodPost, "/tool/predict", `{"rows": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["predictions"], 3)

	rec = env.do(http.MethodPost, "/tool/predict", `{"rows": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newEnv(t, envOptions{deps: map[string]Pinger{
		"redis": func(context.Context) error { return nil },
	}})
	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test-version", data["version"])

	env = newEnv(t, envOptions{deps: map[string]Pinger{
		"clickhouse": func(context.Context) error { return errors.New("connection refused") },
	}})
	rec = env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	env := newEnv(t, envOptions{})
	rec := env.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(http.StatusNotFound), decode(t, rec)["status"])
}
