package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/shared/id"
)

// Propagation headers, also used as gRPC metadata keys (lowercased).
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

const (
	bufferSize = 1000
	keepRecent = 256
)

// Span is one timed operation within a trace.
type Span struct {
	mu sync.Mutex

	TraceID    id.TraceID        `json:"trace_id"`
	SpanID     id.SpanID         `json:"span_id"`
	ParentID   id.SpanID         `json:"parent_id,omitempty"`
	Name       string            `json:"name"`
	Service    string            `json:"service"`
	StartTime  time.Time         `json:"start"`
	Duration   time.Duration     `json:"duration"`
	Tags       map[string]string `json:"tags,omitempty"`
	Error      string            `json:"error,omitempty"`
	StatusCode int               `json:"status,omitempty"`

	tracer *Tracer
	done   bool
}

// Tracer hands out spans and logs them when they finish. It keeps the most
// recent finished spans for inspection.
type Tracer struct {
	service string
	logger  *logging.Logger
	spans   chan *Span

	mu     sync.Mutex
	recent []*Span
	next   int

	closeOnce sync.Once
	stopped   chan struct{}
}

// New creates a tracer and starts its collector.
func New(service string, logger *logging.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logging.OrNop(logger).Named("tracing"),
		spans:   make(chan *Span, bufferSize),
		recent:  make([]*Span, 0, keepRecent),
		stopped: make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan opens a span, parented to the span carried by ctx if any.
// A nil tracer returns a detached span that is never collected.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = id.NewTraceID()
	}
	span := &Span{
		TraceID:   traceID,
		SpanID:    id.NewSpanID(),
		ParentID:  SpanIDFrom(ctx),
		Name:      name,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
		tracer:    t,
	}
	if t != nil {
		span.Service = t.service
	}
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

func (s *Span) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tags[key] = value
}

// SetError records err; nil is ignored.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Error = err.Error()
}

func (s *Span) SetStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusCode = code
}

// Finish stops the clock and submits the span. Later calls do nothing.
func (s *Span) Finish() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()

	if s.tracer != nil {
		s.tracer.submit(s)
	}
}

func (t *Tracer) submit(span *Span) {
	select {
	case <-t.stopped:
		return
	default:
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", span.TraceID.String()),
			zap.String("span_id", span.SpanID.String()))
	}
}

func (t *Tracer) collect() {
	for {
		select {
		case span := <-t.spans:
			t.record(span)
		case <-t.stopped:
			return
		}
	}
}

func (t *Tracer) record(span *Span) {
	t.mu.Lock()
	if len(t.recent) < keepRecent {
		t.recent = append(t.recent, span)
	} else {
		t.recent[t.next] = span
	}
	t.next = (t.next + 1) % keepRecent
	t.mu.Unlock()

	span.mu.Lock()
	fields := []zap.Field{
		zap.String("trace_id", span.TraceID.String()),
		zap.String("span_id", span.SpanID.String()),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID.String()))
	}
	errMsg := span.Error
	span.mu.Unlock()

	if errMsg != "" {
		t.logger.Warn("span failed", append(fields, zap.String("error", errMsg))...)
		return
	}
	t.logger.Debug("span completed", fields...)
}

// Recent returns up to n finished spans, newest first.
func (t *Tracer) Recent(n int) []*Span {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	size := len(t.recent)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]*Span, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, t.recent[(t.next-i+keepRecent)%keepRecent])
	}
	return out
}

// Close stops the collector. Spans finished afterwards are dropped.
func (t *Tracer) Close() {
	t.closeOnce.Do(func() { close(t.stopped) })
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// WithRemoteParent continues a trace received from another context.
func WithRemoteParent(ctx context.Context, traceID id.TraceID, parent id.SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if parent != "" {
		ctx = context.WithValue(ctx, spanIDKey, parent)
	}
	return ctx
}

// Inject writes the trace context of ctx into headers.
func Inject(ctx context.Context, headers map[string]string) {
	if traceID := TraceIDFrom(ctx); traceID != "" {
		headers[TraceHeader] = traceID.String()
	}
	if spanID := SpanIDFrom(ctx); spanID != "" {
		headers[SpanHeader] = spanID.String()
	}
}

func TraceIDFrom(ctx context.Context) id.TraceID {
	traceID, _ := ctx.Value(traceIDKey).(id.TraceID)
	return traceID
}

func SpanIDFrom(ctx context.Context) id.SpanID {
	spanID, _ := ctx.Value(spanIDKey).(id.SpanID)
	return spanID
}

// Format renders the trace context of ctx for log lines.
func Format(ctx context.Context) string {
	return fmt.Sprintf("[trace:%s span:%s]", TraceIDFrom(ctx), SpanIDFrom(ctx))
}
