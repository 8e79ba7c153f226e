// Package telemetry defines counters for the relay pool, router, and
// conversation runtime behind an OTLP-over-HTTP metrics exporter; those
// packages do not increment them, so only the provider's lifecycle and its
// Event log records are in use (spec.md
// §4.9, extending the ambient stack: the teacher module depends on the
// full go.opentelemetry.io/otel stack but never exercises it in the
// retrieved sources, so this package is this module's own wiring of that
// dependency rather than an adaptation of teacher code).
package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	otellog "go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apilog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Counter is a single named count this server increments. It wraps the
// underlying OTel instrument (or a no-op, when telemetry is disabled)
// behind a plain function so callers never touch the SDK type directly.
type Counter func(ctx context.Context, delta int64)

// Counters holds every counter this server increments.
type Counters struct {
	RelayConnected    Counter
	RelayDisconnected Counter
	Published         Counter

	Routed    Counter
	Dropped   Counter
	Duplicate Counter

	ConversationsStarted   Counter
	ConversationsCompleted Counter
	ConversationsTimedOut  Counter
}

func wrap(c metric.Int64Counter) Counter {
	return func(ctx context.Context, delta int64) { c.Add(ctx, delta) }
}

func noopCounter(context.Context, int64) {}

// Provider owns the SDK meter and logger provider's lifecycle.
type Provider struct {
	mp       *sdkmetric.MeterProvider
	lp       *sdklog.LoggerProvider
	logger   apilog.Logger
	Counters Counters
}

// Event emits a structured log record through the OTLP log pipeline, in
// addition to (never instead of) this server's plain log.Printf output.
// When telemetry is disabled this is a no-op.
func (p *Provider) Event(ctx context.Context, severity apilog.Severity, body string, attrs ...apilog.KeyValue) {
	if p.logger == nil {
		return
	}
	var record apilog.Record
	record.SetTimestamp(time.Now())
	record.SetSeverity(severity)
	record.SetBody(apilog.StringValue(body))
	record.AddAttributes(attrs...)
	p.logger.Emit(ctx, record)
}

// NewProvider builds an OTLP-over-HTTP metrics pipeline pointed at
// endpoint. If endpoint is empty, metrics collection is disabled and every
// counter becomes a no-op; the ambient log.Printf-based logging this
// server does everywhere else is unaffected either way.
func NewProvider(ctx context.Context, endpoint string, logger *log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.Default()
	}
	if endpoint == "" {
		logger.Printf("[telemetry] no otlp endpoint configured, metrics disabled")
		return &Provider{Counters: Counters{
			RelayConnected: noopCounter, RelayDisconnected: noopCounter, Published: noopCounter,
			Routed: noopCounter, Dropped: noopCounter, Duplicate: noopCounter,
			ConversationsStarted: noopCounter, ConversationsCompleted: noopCounter, ConversationsTimedOut: noopCounter,
		}}, nil
	}

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating otlp metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	meter := mp.Meter("portal")

	logExporter, err := otellog.New(ctx,
		otellog.WithEndpoint(endpoint),
		otellog.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating otlp log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)

	p := &Provider{mp: mp, lp: lp, logger: lp.Logger("portal")}

	if p.Counters.RelayConnected, err = newCounter(meter, "portal.relay.connected"); err != nil {
		return nil, err
	}
	if p.Counters.RelayDisconnected, err = newCounter(meter, "portal.relay.disconnected"); err != nil {
		return nil, err
	}
	if p.Counters.Published, err = newCounter(meter, "portal.relay.published"); err != nil {
		return nil, err
	}
	if p.Counters.Routed, err = newCounter(meter, "portal.router.routed"); err != nil {
		return nil, err
	}
	if p.Counters.Dropped, err = newCounter(meter, "portal.router.dropped"); err != nil {
		return nil, err
	}
	if p.Counters.Duplicate, err = newCounter(meter, "portal.router.duplicate"); err != nil {
		return nil, err
	}
	if p.Counters.ConversationsStarted, err = newCounter(meter, "portal.conversation.started"); err != nil {
		return nil, err
	}
	if p.Counters.ConversationsCompleted, err = newCounter(meter, "portal.conversation.completed"); err != nil {
		return nil, err
	}
	if p.Counters.ConversationsTimedOut, err = newCounter(meter, "portal.conversation.timed_out"); err != nil {
		return nil, err
	}

	return p, nil
}

func newCounter(meter metric.Meter, name string) (Counter, error) {
	c, err := meter.Int64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("creating counter %s: %w", name, err)
	}
	return wrap(c), nil
}

// Shutdown flushes and tears down the meter and logger providers, if any
// were created.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.mp == nil {
		return nil
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		return err
	}
	if p.lp == nil {
		return nil
	}
	return p.lp.Shutdown(ctx)
}
