package tracer

import "context"

// NoopTracer discards all spans. Used in tests and when tracing is disabled.
type NoopTracer struct{}

// NewNoop creates a tracer that does nothing.
func NewNoop() *NoopTracer {
	return &NoopTracer{}
}

func (t *NoopTracer) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                {}
func (noopSpan) SetAttributes(...Attribute) {}
