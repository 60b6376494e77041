package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SessionMetrics records gateway session counters and timings. A nil receiver
// is valid and records nothing, so callers can wire metrics optionally.
type SessionMetrics struct {
	framesRead      metric.Int64Counter
	bytesRead       metric.Int64Counter
	decodeFailures  metric.Int64Counter
	reconnects      metric.Int64Counter
	resubscriptions metric.Int64Counter
	handlerSeconds  metric.Float64Histogram
	errorsRouted    metric.Int64Counter
}

// NewSessionMetrics creates the instrument set on the given provider.
func NewSessionMetrics(provider metric.MeterProvider) (*SessionMetrics, error) {
	meter := provider.Meter("halyard/gateway")
	m := new(SessionMetrics)
	var err error
	if m.framesRead, err = meter.Int64Counter("gateway.frames.read"); err != nil {
		return nil, fmt.Errorf("create frames counter: %w", err)
	}
	if m.bytesRead, err = meter.Int64Counter("gateway.bytes.read"); err != nil {
		return nil, fmt.Errorf("create bytes counter: %w", err)
	}
	if m.decodeFailures, err = meter.Int64Counter("gateway.decode.failures"); err != nil {
		return nil, fmt.Errorf("create decode counter: %w", err)
	}
	if m.reconnects, err = meter.Int64Counter("gateway.reconnects"); err != nil {
		return nil, fmt.Errorf("create reconnect counter: %w", err)
	}
	if m.resubscriptions, err = meter.Int64Counter("gateway.resubscriptions"); err != nil {
		return nil, fmt.Errorf("create resubscription counter: %w", err)
	}
	if m.handlerSeconds, err = meter.Float64Histogram("gateway.handler.seconds"); err != nil {
		return nil, fmt.Errorf("create handler histogram: %w", err)
	}
	if m.errorsRouted, err = meter.Int64Counter("gateway.errors.routed"); err != nil {
		return nil, fmt.Errorf("create error counter: %w", err)
	}
	return m, nil
}

// FrameRead records one inbound frame of the given size.
func (m *SessionMetrics) FrameRead(ctx context.Context, bytes int) {
	if m == nil {
		return
	}
	m.framesRead.Add(ctx, 1)
	m.bytesRead.Add(ctx, int64(bytes))
}

// DecodeFailure records a frame that could not be decoded.
func (m *SessionMetrics) DecodeFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.decodeFailures.Add(ctx, 1)
}

// Reconnect records one reconnect attempt outcome.
func (m *SessionMetrics) Reconnect(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// Resubscription records one resubscribe-all send.
func (m *SessionMetrics) Resubscription(ctx context.Context) {
	if m == nil {
		return
	}
	m.resubscriptions.Add(ctx, 1)
}

// HandlerDuration records the execution time of one handler closure.
func (m *SessionMetrics) HandlerDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerSeconds.Record(ctx, d.Seconds())
}

// ErrorRouted records one routed venue error, labelled by destination.
func (m *SessionMetrics) ErrorRouted(ctx context.Context, destination string) {
	if m == nil {
		return
	}
	m.errorsRouted.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}
