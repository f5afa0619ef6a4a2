package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ForecastMCP/internal/domain/models"
	"ForecastMCP/internal/service/stream"
	"ForecastMCP/internal/usecase"
	xhttp "ForecastMCP/pkg/http"
	"ForecastMCP/pkg/jsonsafe"
	xlogger "ForecastMCP/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// ToolsEchoHandler serves the tool endpoints, the manifest, health and the trial stream.
type ToolsEchoHandler struct {
	logger   *xlogger.Logger
	version  string
	optimize *usecase.OptimizeUseCase
	fit      *usecase.FitUseCase
	writer   *usecase.WriteCodeUseCase
	hub      *stream.Hub
	deps     map[string]Pinger
}

func NewToolsEchoHandler(logger *xlogger.Logger, version string, optimize *usecase.OptimizeUseCase, fit *usecase.FitUseCase, writer *usecase.WriteCodeUseCase, hub *stream.Hub, deps map[string]Pinger) *ToolsEchoHandler {
	return &ToolsEchoHandler{
		logger:   logger,
		version:  version,
		optimize: optimize,
		fit:      fit,
		writer:   writer,
		hub:      hub,
		deps:     deps,
	}
}

func (h *ToolsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/tools", h.Manifest)
	e.GET("/healthz", h.Health)
	if h.hub != nil {
		e.GET("/ws/trials", h.Trials)
	}

	g := e.Group("/tool")
	g.POST("/optimize", h.Optimize)
	g.GET("/optimize/latest", h.Latest)
	g.POST("/write_code", h.WriteCode)
	g.POST("/fit", h.Fit)
	g.POST("/predict", h.Predict)
}

func (h *ToolsEchoHandler) Index(c echo.Context) error {
	return c.String(http.StatusOK, "MCP Version: "+h.version)
}

func (h *ToolsEchoHandler) Manifest(c echo.Context) error {
	return xhttp.RawResponse(c, Tools)
}

func (h *ToolsEchoHandler) Optimize(c echo.Context) error {
	req := &models.OptimizeRequest{}
	// the body is optional; only a JSON body is read
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
			return xhttp.BadRequestResponse(c, verr)
		}
	}

	res, err := h.optimize.Optimize(c.Request().Context(), usecase.OptimizeParams{Trials: req.NTrials})
	if err != nil {
		h.logger.Error("optimize usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.RawResponse(c, res)
}

func (h *ToolsEchoHandler) Latest(c echo.Context) error {
	res, err := h.optimize.Latest(c.Request().Context())
	if err != nil {
		if !errors.Is(err, models.ErrStudyNotFound) {
			h.logger.Error("latest study error", xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	best := res.BestParams()
	if best == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no completed study"))
	}
	return xhttp.RawResponse(c, jsonsafe.Sanitize(map[string]interface{}{
		"study_id": res.ID,
		"params":   best.AsMap(),
		"value":    res.Best.Value,
		"trials":   len(res.Trials),
		"finished": res.Finished.Format(time.RFC3339),
	}))
}

func (h *ToolsEchoHandler) WriteCode(c echo.Context) error {
	req := &models.WriteCodeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.writer.Write(c.Request().Context(), req.Filename, *req.Code); err != nil {
		h.logger.Error("write_code usecase error", xlogger.String("filename", req.Filename), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.RawResponse(c, models.WriteCodeResponse{Status: "written"})
}

func (h *ToolsEchoHandler) Fit(c echo.Context) error {
	req := &models.FitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.fit.Fit(c.Request().Context(), req)
	if err != nil {
		h.logger.Warn("fit usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.RawResponse(c, res)
}

func (h *ToolsEchoHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res := h.fit.Predict(c.Request().Context(), req)
	return xhttp.RawResponse(c, jsonsafe.Sanitize(map[string]interface{}{"predictions": res.Predictions}))
}

func (h *ToolsEchoHandler) Trials(c echo.Context) error {
	if err := h.hub.ServeWS(c.Response(), c.Request()); err != nil {
		// the upgrader has already answered the client
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
	}
	return nil
}

func (h *ToolsEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := xhttp.HealthResponse{Status: "ok", Version: h.version}
	if len(h.deps) > 0 {
		resp.Dependencies = make(map[string]string, len(h.deps))
	}
	for name, ping := range h.deps {
		if err := ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Dependencies[name] = err.Error()
			continue
		}
		resp.Dependencies[name] = "ok"
	}
	if resp.Status != "ok" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, resp)
	}
	return xhttp.SuccessResponse(c, resp)
}

// toAppError maps domain errors onto HTTP statuses.
func toAppError(err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrPathOutsideRoot):
		return xhttp.FieldError("filename", err.Error()).WithError(err)
	case errors.Is(err, models.ErrCodeTooLarge):
		return xhttp.NewAppError("ERR_TOO_LARGE", "code", err.Error(), http.StatusRequestEntityTooLarge).WithError(err)
	case errors.Is(err, models.ErrInvalidShape),
		errors.Is(err, models.ErrInvalidTarget),
		errors.Is(err, models.ErrNotEnoughData):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrStudyNotFound):
		return xhttp.NotFoundError("no completed study").WithError(err)
	case errors.Is(err, models.ErrNoCompletedTrial):
		return xhttp.ServiceUnavailableError("no trial completed").WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.ServiceUnavailableError("tuning timed out").WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
