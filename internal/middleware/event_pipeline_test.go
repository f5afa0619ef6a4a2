package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ForecastMCP/internal/domain/models"
	"ForecastMCP/internal/services/tuning"
	applogger "ForecastMCP/pkg/logger"
	"ForecastMCP/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []models.StudyEvent
}

func (f *fakePublisher) Publish(_ context.Context, ev models.StudyEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.got = append(f.got, ev)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []models.StudyEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StudyEvent(nil), f.got...)
}

type countingMetrics struct {
	metrics.Nop
	mu     sync.Mutex
	errors map[string]int
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[kind]++
}

func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func trialEvent(study string, n int) models.StudyEvent {
	return models.StudyEvent{
		Type:      models.EventTrialCompleted,
		StudyID:   study,
		Trial:     &models.Trial{Number: n, State: models.TrialComplete},
		Timestamp: time.Now(),
	}
}

func TestEventPipelineRetriesThenDelivers(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	m := &countingMetrics{}
	p := NewEventPipeline(pub, m, WithRetry(3, time.Millisecond, 2*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Emit(trialEvent("s", 0))

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.count("pipeline_publish"))
	assert.Zero(t, m.count("pipeline_buffer_drop"))
	require.NoError(t, p.Stop(context.Background()))
}

func TestEventPipelineDropsAfterRetries(t *testing.T) {
	pub := &fakePublisher{failures: 100}
	m := &countingMetrics{}
	p := NewEventPipeline(pub, m, WithRetry(2, time.Millisecond, time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Emit(trialEvent("s", 0))

	require.Eventually(t, func() bool { return m.count("pipeline_buffer_drop") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.count("pipeline_publish"))
	assert.Empty(t, pub.published())
}

func TestEventPipelineDropsOnOverflow(t *testing.T) {
	pub := &fakePublisher{}
	m := &countingMetrics{}
	// not started: nothing drains the buffer
	p := NewEventPipeline(pub, m, WithBufferSize(2))

	for i := 0; i < 5; i++ {
		p.Emit(trialEvent("s", i))
	}
	assert.Equal(t, 2, p.Pending())
	assert.Equal(t, 3, m.count("pipeline_buffer_full"))
}

func TestEventPipelineRejectsInvalid(t *testing.T) {
	m := &countingMetrics{}
	p := NewEventPipeline(&fakePublisher{}, m)

	p.Emit(models.StudyEvent{Type: models.EventStudyCompleted})
	p.Emit(models.StudyEvent{Type: models.EventTrialCompleted, StudyID: "s"})
	p.Emit(models.StudyEvent{Type: "trial.started", StudyID: "s"})

	assert.Equal(t, 3, m.count("pipeline_validate"))
	assert.Zero(t, p.Pending())
}

func TestEventPipelineThrottlesTrialEvents(t *testing.T) {
	m := &countingMetrics{}
	p := NewEventPipeline(&fakePublisher{}, m, WithThrottle(1, 2))

	p.Emit(trialEvent("s", 0))
	p.Emit(trialEvent("s", 1))
	p.Emit(trialEvent("s", 2))
	p.Emit(trialEvent("other", 0))
	p.Emit(models.StudyEvent{Type: models.EventStudyCompleted, StudyID: "s"})

	assert.Equal(t, 4, p.Pending())
	assert.Equal(t, 1, m.count("pipeline_throttle"))

	// completing the study releases its bucket
	p.Emit(trialEvent("s", 3))
	assert.Equal(t, 5, p.Pending())
}

func TestEventPipelineBurstKeepsFastStudy(t *testing.T) {
	pub := &fakePublisher{}
	m := &countingMetrics{}
	p := NewEventPipeline(pub, m, WithThrottle(50, 1000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	study := tuning.NewStudy(tuning.StudyConfig{Trials: 20, Seed: 3}, tuning.NewRandomObjective(3), applogger.Nop(),
		tuning.WithEventSink(p))
	_, err := study.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Stop(context.Background()))

	trials := 0
	for _, ev := range pub.published() {
		if ev.Type == models.EventTrialCompleted {
			trials++
		}
	}
	assert.Equal(t, 20, trials)
	assert.Zero(t, m.count("pipeline_throttle"))
}

func TestEventPipelineStopFlushesBuffer(t *testing.T) {
	pub := &fakePublisher{}
	p := NewEventPipeline(pub, &countingMetrics{})
	for i := 0; i < 3; i++ {
		p.Emit(trialEvent("s", i))
	}
	p.Start(context.Background())
	require.NoError(t, p.Stop(context.Background()))

	assert.Len(t, pub.published(), 3)
	assert.NoError(t, p.Stop(context.Background()))
}

type recordingSink struct{ got []models.StudyEvent }

func (r *recordingSink) Emit(ev models.StudyEvent) { r.got = append(r.got, ev) }

func TestFanout(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	Fanout{a, nil, b}.Emit(trialEvent("s", 0))
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}
