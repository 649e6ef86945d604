package queue

import (
	"context"
	"errors"
	"time"

	"qms/token-service/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_operations_total",
		Help: "Queue operations by name and outcome",
	}, []string{"operation", "outcome"})
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "token_operation_duration_seconds",
		Help:    "Queue operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokens_issued_total",
		Help: "Tokens generated",
	})
	tokensClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokens_claimed_total",
		Help: "Tokens claimed by serve-next",
	})
	tokensForceCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokens_force_completed_total",
		Help: "Open tokens closed by reset or deletion",
	})
)

var tracer trace.Tracer = otel.Tracer("qms/token-service/queue")

// track opens a span for op and returns a func that records the outcome.
func track(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "queue."+op)
	start := time.Now()
	return ctx, func(err error) {
		outcome := outcomeOf(err)
		operationsTotal.WithLabelValues(op, outcome).Inc()
		operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrAccessDenied):
		return "denied"
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrConfiguration),
		errors.Is(err, store.ErrRangeExhausted),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrDeskUnavailable):
		return "rejected"
	default:
		return "error"
	}
}
