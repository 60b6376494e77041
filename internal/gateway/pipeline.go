package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/halyard-io/halyard/errs"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/telemetry"
	"github.com/halyard-io/halyard/internal/transport"
	"github.com/halyard-io/halyard/internal/wire"
)

// Queue depths for the staged inbound path. Producers block when a stage
// falls behind, so backpressure reaches the socket instead of dropping
// frames or growing without bound.
const (
	frameQueueDepth   = 512
	handlerQueueDepth = 256
)

// pipeline is the staged inbound path: a per-connection reader pump feeds raw
// frames into the frame queue, one decode loop turns frames into messages,
// and one handler loop runs message handlers strictly in arrival order.
type pipeline struct {
	venue    string
	maxFrame int
	log      observability.Logger
	metrics  *telemetry.SessionMetrics

	frames   chan []byte
	handlers chan func()
	handle   func(ctx context.Context, msg wire.Message)
}

func newPipeline(venue string, maxFrame int, log observability.Logger, metrics *telemetry.SessionMetrics) *pipeline {
	return &pipeline{
		venue:    venue,
		maxFrame: maxFrame,
		log:      log,
		metrics:  metrics,
		frames:   make(chan []byte, frameQueueDepth),
		handlers: make(chan func(), handlerQueueDepth),
	}
}

// readLoop pumps complete frames off one connection. Each connection gets its
// own pump; the loop exits when the transport fails or the context ends. The
// declared size is checked before the payload is buffered so an oversized
// frame cannot exhaust memory.
func (p *pipeline) readLoop(ctx context.Context, trans transport.Transport) error {
	var buf []byte
	chunk := make([]byte, 64<<10)
	for {
		for {
			frame, rest := wire.ReadFrame(buf)
			if frame == nil {
				break
			}
			buf = rest
			copied := make([]byte, len(frame))
			copy(copied, frame)
			p.metrics.FrameRead(ctx, len(copied))
			select {
			case p.frames <- copied:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if size := wire.PeekSize(buf); size > p.maxFrame {
			return errs.New(p.venue, errs.CodeProtocol,
				errs.WithMessage("frame of "+strconv.Itoa(size)+" bytes exceeds limit of "+strconv.Itoa(p.maxFrame)))
		}

		n, err := trans.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.New(p.venue, errs.CodeTransport,
				errs.WithMessage("connection read failed"), errs.WithCause(err))
		}
	}
}

// decodeLoop turns raw frames into typed messages and enqueues their handler
// closures. A frame that fails to decode is counted and dropped; an oversized
// frame is a protocol error that terminates the loop.
func (p *pipeline) decodeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-p.frames:
			if len(frame) > p.maxFrame {
				p.metrics.DecodeFailure(ctx)
				return errs.New(p.venue, errs.CodeProtocol,
					errs.WithMessage("decoded frame exceeds size limit"))
			}
			msg, err := wire.Decode(frame)
			if err != nil {
				p.metrics.DecodeFailure(ctx)
				p.log.Warn("dropping undecodable frame",
					observability.F("venue", p.venue),
					observability.F("error", err))
				continue
			}
			fn := func() { p.handle(ctx, msg) }
			select {
			case p.handlers <- fn:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handlerLoop executes handler closures one at a time. Sequential execution
// is what lets handlers touch the correlation tables without further locking
// around multi-step transitions.
func (p *pipeline) handlerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-p.handlers:
			start := time.Now()
			p.runHandler(fn)
			p.metrics.HandlerDuration(ctx, time.Since(start))
		}
	}
}

func (p *pipeline) runHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("message handler panicked",
				observability.F("venue", p.venue),
				observability.F("panic", r))
		}
	}()
	fn()
}
