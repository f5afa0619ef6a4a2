package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	xhttp "ForecastMCP/pkg/http"
	pkgkafka "ForecastMCP/pkg/kafka"
	applogger "ForecastMCP/pkg/logger"
)

// Locker deduplicates redelivered requests.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// KafkaTuneHandler runs a study for every request on the requests topic.
type KafkaTuneHandler struct {
	topic   string
	opt     *OptimizeUseCase
	locker  Locker
	lockTTL time.Duration
	metrics domrepo.Metrics
	logger  *applogger.Logger
}

func NewKafkaTuneHandler(topic string, opt *OptimizeUseCase, locker Locker, lockTTL time.Duration, metrics domrepo.Metrics, logger *applogger.Logger) *KafkaTuneHandler {
	if lockTTL <= 0 {
		lockTTL = 24 * time.Hour
	}
	return &KafkaTuneHandler{topic: topic, opt: opt, locker: locker, lockTTL: lockTTL, metrics: metrics, logger: logger}
}

func (h *KafkaTuneHandler) Topic() string { return h.topic }

// incoming message schema: {request_id, n_trials}
func (h *KafkaTuneHandler) Handle(ctx context.Context, b []byte) error {
	var req models.TuneRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return &pkgkafka.HookError{Code: "ERR_MALFORMED", Err: err}
	}
	if verrs := xhttp.ValidateStruct(ctx, &req); len(verrs) > 0 {
		h.metrics.RecordError("consumer_validate")
		return &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: fmt.Errorf("%s: %s", verrs[0].Field, verrs[0].Message)}
	}

	key := "tune:" + req.RequestID
	ok, err := h.locker.TryLock(ctx, key, h.lockTTL)
	if err != nil {
		h.metrics.RecordError("consumer_lock")
		return fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		h.logger.Info("duplicate tune request skipped", applogger.String("request_id", req.RequestID))
		return nil
	}

	start := time.Now()
	best, err := h.opt.Optimize(ctx, OptimizeParams{Trials: req.NTrials})
	h.metrics.RecordLatency("consumer_study", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, models.ErrNoCompletedTrial) {
			return &pkgkafka.HookError{Code: "ERR_NO_TRIAL", Err: err}
		}
		// release so a retry can run the study again
		if uerr := h.locker.Unlock(context.Background(), key); uerr != nil {
			h.logger.Warn("tune lock not released", applogger.String("key", key), applogger.Error(uerr))
		}
		h.metrics.RecordError("consumer_study")
		return err
	}

	h.logger.Info("tune request done",
		applogger.String("request_id", req.RequestID),
		applogger.Any("best", best),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTuneHandler)(nil)
