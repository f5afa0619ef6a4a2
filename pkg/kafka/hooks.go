package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook wraps message handling. Returning an error from BeforeHandle
// skips the handler and sends the message down the failure path (OnError, DLQ, commit).
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
	return ctx, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, error) {}

// HookError classifies an error raised by a hook, e.g. ERR_VALIDATION.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs implements ConsumerHook from optional plain functions.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message, []byte) (context.Context, []byte, error)
	After  func(context.Context, string, kafka.Message, error)
	Err    func(context.Context, string, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, []byte, error) {
	if h.Before == nil {
		return ctx, data, nil
	}
	return h.Before(ctx, topic, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, err)
	}
}

// HookChain runs Before hooks in order and After hooks in reverse.
// A panicking hook is converted to an ERR_PANIC error and never reaches the worker.
type HookChain struct {
	hooks []ConsumerHook
}

func NewHookChain(hooks ...ConsumerHook) *HookChain {
	filtered := make([]ConsumerHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			filtered = append(filtered, h)
		}
	}
	return &HookChain{hooks: filtered}
}

func (c *HookChain) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, []byte, error) {
	for _, h := range c.hooks {
		nextCtx, nextData, err := safeBefore(h, ctx, topic, km, data)
		if err != nil {
			return ctx, data, err
		}
		ctx, data = nextCtx, nextData
	}
	return ctx, data, nil
}

func (c *HookChain) AfterHandle(ctx context.Context, topic string, km kafka.Message, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		h := c.hooks[i]
		protect(func() { h.AfterHandle(ctx, topic, km, err) })
	}
}

func (c *HookChain) OnError(ctx context.Context, topic string, km kafka.Message, err error) {
	for _, h := range c.hooks {
		h := h
		protect(func() { h.OnError(ctx, topic, km, err) })
	}
}

func safeBefore(h ConsumerHook, ctx context.Context, topic string, km kafka.Message, data []byte) (outCtx context.Context, out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			outCtx, out = ctx, data
			err = &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return h.BeforeHandle(ctx, topic, km, data)
}

func protect(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

type ctxKey string

const (
	CtxStartTime ctxKey = "kafka_hook_start_time"
	CtxTraceID   ctxKey = "kafka_hook_trace_id"
)

// TracingHook copies the trace_id header and the handling start time into the context.
func TracingHook() ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, []byte, error) {
			ctx = context.WithValue(ctx, CtxStartTime, time.Now())
			if id := HeaderValue(km, "trace_id"); id != "" {
				ctx = context.WithValue(ctx, CtxTraceID, id)
			}
			return ctx, data, nil
		},
	}
}

// TraceID returns the id TracingHook stored, or "".
func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(CtxTraceID).(string)
	return s
}

// HeaderValue returns the first header named key.
func HeaderValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return ""
}
