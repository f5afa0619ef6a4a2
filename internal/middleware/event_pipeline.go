package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	"ForecastMCP/internal/domain/service"
	applogger "ForecastMCP/pkg/logger"

	"golang.org/x/time/rate"
)

// EventPipeline sits between a running study and the message bus.
// It validates and optionally throttles events, buffers them, and publishes
// from a background goroutine with retry and backoff. When the buffer is
// full new events are dropped rather than blocking the study.
type EventPipeline struct {
	pub        domrepo.EventPublisher
	metrics    domrepo.Metrics
	l          *applogger.Logger
	trialRate  rate.Limit
	trialBurst int
	bufSize    int
	attempts   int
	backoffMin time.Duration
	backoffMax time.Duration

	bufCh  chan models.StudyEvent
	stopCh chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	limiters map[string]*rate.Limiter // per-study trial event buckets
}

type PipelineOption func(*EventPipeline)

// WithThrottle gives every study a token bucket for its trial events that
// refills at rps and holds burst tokens; study events are never throttled.
func WithThrottle(rps float64, burst int) PipelineOption {
	return func(p *EventPipeline) {
		if rps > 0 && burst > 0 {
			p.trialRate = rate.Limit(rps)
			p.trialBurst = burst
		}
	}
}

func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetry sets publish attempts per event and the backoff bounds between them.
func WithRetry(attempts int, min, max time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if min > 0 {
			p.backoffMin = min
		}
		if max >= p.backoffMin {
			p.backoffMax = max
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *EventPipeline) { p.l = l }
}

func NewEventPipeline(pub domrepo.EventPublisher, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		pub:        pub,
		metrics:    metrics,
		l:          applogger.Nop(),
		bufSize:    1000,
		attempts:   3,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.StudyEvent, p.bufSize)
	return p
}

// Start launches background publishing of buffered events.
func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopCh:
				p.drain(ctx)
				return
			case <-ctx.Done():
				return
			case ev := <-p.bufCh:
				p.deliver(ctx, ev)
			}
		}
	}()
}

// Stop publishes what is still buffered, one attempt each, and waits for the
// background goroutine until ctx expires.
func (p *EventPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit implements service.EventSink; it never blocks.
func (p *EventPipeline) Emit(ev models.StudyEvent) {
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		p.l.Warn("event rejected", applogger.String("study_id", ev.StudyID), applogger.Error(err))
		return
	}
	if !p.allow(ev, time.Now()) {
		p.metrics.RecordError("pipeline_throttle")
		return
	}
	select {
	case p.bufCh <- ev:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

// Pending reports buffered events not yet picked up.
func (p *EventPipeline) Pending() int {
	return len(p.bufCh)
}

func (p *EventPipeline) deliver(ctx context.Context, ev models.StudyEvent) {
	start := time.Now()
	backoff := p.backoffMin
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err := p.pub.Publish(ctx, ev)
		if err == nil {
			p.metrics.RecordLatency("pipeline_publish", time.Since(start).Seconds())
			return
		}
		p.metrics.RecordError("pipeline_publish")
		if attempt == p.attempts {
			p.l.Error("event dropped after retries",
				applogger.String("study_id", ev.StudyID),
				applogger.String("type", string(ev.Type)),
				applogger.Int("attempts", attempt),
				applogger.Error(err),
			)
			break
		}
		select {
		case <-time.After(backoff):
		case <-p.stopCh:
			// keep retrying during shutdown but without waiting
		case <-ctx.Done():
			p.metrics.RecordError("pipeline_buffer_drop")
			return
		}
		if backoff *= 2; backoff > p.backoffMax {
			backoff = p.backoffMax
		}
	}
	p.metrics.RecordError("pipeline_buffer_drop")
}

func (p *EventPipeline) drain(ctx context.Context) {
	for {
		select {
		case ev := <-p.bufCh:
			if err := p.pub.Publish(ctx, ev); err != nil {
				p.metrics.RecordError("pipeline_buffer_drop")
			}
		default:
			return
		}
	}
}

func validateEvent(ev models.StudyEvent) error {
	if ev.StudyID == "" {
		return fmt.Errorf("study id empty")
	}
	switch ev.Type {
	case models.EventTrialCompleted:
		if ev.Trial == nil {
			return fmt.Errorf("trial event without trial")
		}
	case models.EventStudyCompleted:
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (p *EventPipeline) allow(ev models.StudyEvent, now time.Time) bool {
	if p.trialBurst == 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Type == models.EventStudyCompleted {
		delete(p.limiters, ev.StudyID)
		return true
	}
	lim, ok := p.limiters[ev.StudyID]
	if !ok {
		lim = rate.NewLimiter(p.trialRate, p.trialBurst)
		p.limiters[ev.StudyID] = lim
	}
	return lim.AllowN(now, 1)
}

// Fanout forwards every event to each sink in order.
type Fanout []service.EventSink

func (f Fanout) Emit(ev models.StudyEvent) {
	for _, s := range f {
		if s != nil {
			s.Emit(ev)
		}
	}
}

var (
	_ service.EventSink = (*EventPipeline)(nil)
	_ service.EventSink = Fanout(nil)
)
