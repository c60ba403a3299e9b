package enrollment

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentation = "github.com/ariefcatur/go-lms-enrollment/internal/enrollment"

// Deps are the collaborators shared by OrderService and WebhookHandler.
// Cache, Publisher and Logger are optional.
type Deps struct {
	Store     Store
	Gateway   Gateway
	Cache     Cache
	Publisher EventPublisher
	Logger    *zap.Logger

	Currency      string
	WebhookSecret string
	// Producer names this process in published event envelopes.
	Producer string
}

func (d Deps) withDefaults() Deps {
	if d.Cache == nil {
		d.Cache = NopCache{}
	}
	if d.Publisher == nil {
		d.Publisher = NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Currency == "" {
		d.Currency = "INR"
	}
	if d.Producer == "" {
		d.Producer = "enrollment-api"
	}
	return d
}

func tracer() trace.Tracer { return otel.Tracer(instrumentation) }

func counter(name, desc string) metric.Int64Counter {
	c, err := otel.Meter(instrumentation).Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}

func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
