package usecase

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"health-companion/internal/domain"
	"health-companion/internal/observability"
)

const instrumentationName = "health-companion/usecase"

// Completer sends one prompt to a text-generation provider and returns the
// text of the first candidate.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// AdviceService turns a profile and a user message into exactly one provider
// call. It holds no mutable state and is safe for concurrent use.
type AdviceService struct {
	llm        Completer
	transcript bool

	tracer   trace.Tracer
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

type AdviceOption func(*AdviceService)

// WithTranscript forwards completed prior turns to the provider. Off by
// default: each turn is answered from the profile and the current message only.
func WithTranscript(enabled bool) AdviceOption {
	return func(s *AdviceService) {
		s.transcript = enabled
	}
}

// WithTelemetry overrides the global OpenTelemetry providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) AdviceOption {
	return func(s *AdviceService) {
		s.tracer = tp.Tracer(instrumentationName)
		s.requests, s.latency = adviceInstruments(mp.Meter(instrumentationName))
	}
}

func NewAdviceService(llm Completer, opts ...AdviceOption) (*AdviceService, error) {
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	s := &AdviceService{llm: llm}
	WithTelemetry(otel.GetTracerProvider(), otel.GetMeterProvider())(s)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func adviceInstruments(meter metric.Meter) (metric.Int64Counter, metric.Float64Histogram) {
	// Instrument errors only occur for invalid names; the returned no-op
	// instruments are still safe to use.
	requests, _ := meter.Int64Counter("advice_requests_total",
		metric.WithDescription("Provider calls made for user turns, by outcome"))
	latency, _ := meter.Float64Histogram("advice_request_duration_seconds",
		metric.WithDescription("Duration of provider calls"),
		metric.WithUnit("s"))
	return requests, latency
}

// Advise returns the provider's reply unchanged. Every provider-side failure
// is reported as ErrorAdviceRequestFailed; no retry is attempted.
func (s *AdviceService) Advise(ctx context.Context, profile domain.UserProfile, message string, history []domain.Message) (string, error) {
	prompt := BuildPrompt(profile, message)
	if s.transcript {
		prompt = buildTranscriptPrompt(profile, message, history)
	}

	ctx, span := s.tracer.Start(ctx, "AdviceService.Advise", trace.WithAttributes(
		attribute.Int("prompt.bytes", len(prompt)),
		attribute.Int("history.messages", len(history)),
		attribute.Bool("transcript", s.transcript),
	))
	defer span.End()

	log := observability.LoggerFromContext(ctx)
	start := time.Now()
	reply, err := s.llm.Complete(ctx, prompt)
	s.latency.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		attrs := []any{"error", err}
		if status, ok := upstreamStatusCode(err); ok {
			attrs = append(attrs, "status", status)
			span.SetAttributes(attribute.Int("provider.status", status))
		}
		log.Warn("advice request failed", attrs...)
		return "", s.fail(ctx, span, newError(ErrorAdviceRequestFailed, "provider_error", err))
	}
	if reply == "" {
		log.Warn("advice request returned no text")
		return "", s.fail(ctx, span, newError(ErrorAdviceRequestFailed, "provider_empty_reply", nil))
	}

	s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	span.SetAttributes(attribute.Int("reply.bytes", len(reply)))
	return reply, nil
}

func (s *AdviceService) fail(ctx context.Context, span trace.Span, err *Error) *Error {
	s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", err.Reason)))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Reason)
	return err
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
