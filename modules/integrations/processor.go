package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/onboardkit/pkg/logger"
)

// ProcessingResult reports how an inbound event was resolved.
type ProcessingResult string

const (
	// ResultProcessed: the event was dispatched and the handler succeeded.
	ResultProcessed ProcessingResult = "processed"
	// ResultAlreadyProcessed: a previous delivery already handled this
	// (source, event_id); nothing was dispatched. Reported as success so
	// the provider stops retrying.
	ResultAlreadyProcessed ProcessingResult = "already_processed"
	// ResultIgnored: no handler is registered for the event type. The
	// event is persisted and marked processed so new provider event types
	// never fail the webhook call.
	ResultIgnored ProcessingResult = "ignored"
)

// HandlerFunc processes one verified, deduplicated webhook event.
// Returning an error leaves the event unprocessed so the provider's
// retry re-delivers it.
type HandlerFunc func(ctx context.Context, event WebhookEvent) error

type handlerKey struct {
	source    string
	eventType string
}

// Processor persists and dispatches inbound webhook events with
// at-most-once processing per (source, event_id). The dedup guarantee
// rests on the EventStore's uniqueness constraint, so it holds across
// process instances.
type Processor struct {
	events   EventStore
	handlers map[handlerKey]HandlerFunc
	now      func() time.Time
	log      *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

func WithProcessorLogger(log *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor creates an event processor over the given event store.
func NewProcessor(events EventStore, opts ...ProcessorOption) *Processor {
	p := &Processor{
		events:   events,
		handlers: make(map[handlerKey]HandlerFunc),
		now:      time.Now,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle registers the handler for (source, eventType). Registration is
// expected at startup, before any ingestion; the map is read-only after
// that.
func (p *Processor) Handle(source, eventType string, fn HandlerFunc) {
	p.handlers[handlerKey{source: source, eventType: eventType}] = fn
}

// Ingest records and dispatches one inbound event.
//
// The event row is persisted before any side effect, so a crash
// mid-dispatch leaves an auditable unprocessed record that the
// provider's retry picks up again. A delivery whose (source, event_id)
// was already processed returns ResultAlreadyProcessed without
// re-dispatching.
func (p *Processor) Ingest(ctx context.Context, source, eventType, eventID string, payload []byte) (ProcessingResult, error) {
	event := WebhookEvent{
		Source:     source,
		EventType:  eventType,
		EventID:    eventID,
		Payload:    payload,
		ReceivedAt: p.now().UTC(),
	}

	stored, created, err := p.events.Insert(ctx, event)
	if err != nil {
		return "", fmt.Errorf("failed to persist webhook event: %w", err)
	}
	if !created && stored.Processed {
		p.log.InfoContext(ctx, "duplicate webhook delivery deduplicated",
			logger.Component("event_processor"),
			logger.Provider(source),
			logger.EventID(eventID),
		)
		return ResultAlreadyProcessed, nil
	}
	// An existing unprocessed row means an earlier delivery crashed or
	// failed before completion; this delivery retries the dispatch.

	fn, ok := p.handlers[handlerKey{source: source, eventType: eventType}]
	if !ok {
		if err := p.events.MarkProcessed(ctx, stored.ID, p.now().UTC()); err != nil {
			return "", fmt.Errorf("failed to mark event processed: %w", err)
		}
		p.log.InfoContext(ctx, "no handler for event type, recorded as no-op",
			logger.Component("event_processor"),
			logger.Provider(source),
			logger.EventType(eventType),
			logger.EventID(eventID),
		)
		return ResultIgnored, nil
	}

	if err := fn(ctx, stored); err != nil {
		p.log.ErrorContext(ctx, "event handler failed",
			logger.Component("event_processor"),
			logger.Provider(source),
			logger.EventType(eventType),
			logger.EventID(eventID),
			logger.Error(err),
		)
		return "", errors.Join(ErrHandlerFailed, err)
	}

	if err := p.events.MarkProcessed(ctx, stored.ID, p.now().UTC()); err != nil {
		// The handler succeeded but the flag write failed; the provider
		// will redeliver and the handler must tolerate that, which is the
		// at-least-once contract handlers sign up for.
		return "", fmt.Errorf("failed to mark event processed: %w", err)
	}

	return ResultProcessed, nil
}
