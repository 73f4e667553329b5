package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of delivering one broadcast to one target
type Result struct {
	Target  string
	Outcome Outcome
	Err     error // nil when delivered
	// EvictErr is set when a Gone target could not be removed from the registry
	EvictErr error
}

// Report summarises one broadcast. It is complete: every target in the
// snapshot has resolved before the report is returned.
type Report struct {
	Results   []Result
	Delivered int
	Gone      int
	Transient int
}

// Targets returns the number of peers a delivery was attempted for
func (r Report) Targets() int {
	return len(r.Results)
}

// Engine fans a message out to every registered connection except its sender.
type Engine struct {
	registry Registry
	client   DeliveryClient
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// EngineOption customises an Engine
type EngineOption func(*Engine)

// WithLogger sets the engine logger (default slog.Default())
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the instrumentation hook
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewEngine creates a broadcast engine over a registry and a delivery client
func NewEngine(registry Registry, client DeliveryClient, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		client:   client,
		logger:   slog.Default(),
		observer: nopObserver{},
		tracer:   otel.Tracer("chatrelay/relay"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Broadcast delivers payload to every connection in a registry snapshot except
// senderID. Deliveries run concurrently and independently; Gone targets are
// evicted once all of them have resolved. The only error returned is a
// *RegistryError for a failed snapshot: individual delivery failures never
// fail the broadcast.
func (e *Engine) Broadcast(ctx context.Context, senderID string, payload []byte) (Report, error) {
	ctx, span := e.tracer.Start(ctx, "relay.broadcast",
		trace.WithAttributes(attribute.String("relay.sender_id", senderID)),
	)
	defer span.End()
	start := time.Now()

	ids, err := e.registry.Snapshot(ctx)
	if err != nil {
		regErr := &RegistryError{Op: "snapshot", Err: err}
		span.RecordError(regErr)
		span.SetStatus(codes.Error, "registry snapshot failed")
		e.logger.Error("broadcast_snapshot_failed",
			"sender_id", senderID,
			"error", err.Error(),
		)
		return Report{}, regErr
	}

	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == senderID {
			e.logger.Debug("broadcast_skip_sender", "sender_id", senderID)
			continue
		}
		targets = append(targets, id)
	}

	// fan out: one goroutine per target, each writes only its own slot
	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			results[i] = e.deliver(ctx, target, payload)
		}(i, target)
	}
	wg.Wait()

	report := Report{Results: results}
	for i := range report.Results {
		res := &report.Results[i]
		e.observer.DeliveryFinished(res.Outcome)
		switch res.Outcome {
		case OutcomeDelivered:
			report.Delivered++
		case OutcomeTransient:
			report.Transient++
			e.logger.Warn("delivery_failed",
				"sender_id", senderID,
				"target_id", res.Target,
				"error", res.Err.Error(),
			)
		case OutcomeGone:
			report.Gone++
			e.logger.Info("stale_connection_evicted",
				"target_id", res.Target,
				"reason", res.Err.Error(),
			)
			if err := e.registry.Unregister(ctx, res.Target); err != nil {
				res.EvictErr = &RegistryError{Op: "unregister", Err: err}
				e.logger.Error("stale_connection_evict_failed",
					"target_id", res.Target,
					"error", err.Error(),
				)
				continue
			}
			e.observer.ConnectionEvicted()
		}
	}

	elapsed := time.Since(start)
	e.observer.BroadcastFinished(len(targets), elapsed)
	span.SetAttributes(
		attribute.Int("relay.targets", len(targets)),
		attribute.Int("relay.delivered", report.Delivered),
		attribute.Int("relay.gone", report.Gone),
		attribute.Int("relay.transient", report.Transient),
	)
	e.logger.Debug("broadcast_completed",
		"sender_id", senderID,
		"targets", len(targets),
		"delivered", report.Delivered,
		"gone", report.Gone,
		"transient", report.Transient,
		"elapsed", elapsed,
	)
	return report, nil
}

// deliver runs one attempt and turns a panicking client into a transient failure
func (e *Engine) deliver(ctx context.Context, target string, payload []byte) (res Result) {
	res.Target = target
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeTransient
			res.Err = fmt.Errorf("delivery to %s panicked: %v", target, r)
		}
	}()
	res.Err = e.client.Send(ctx, target, payload)
	res.Outcome = Classify(res.Err)
	return res
}
