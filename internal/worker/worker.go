// Package worker consumes ingested events from the EventBus and assesses
// them asynchronously.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/watchpost/internal/assess"
	"github.com/opensource-finance/watchpost/internal/bus"
	"github.com/opensource-finance/watchpost/internal/domain"
)

// Worker processes events asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	assessor *assess.Assessor
	sink     *assess.Sink
	explain  domain.ExplainLevel

	subscriptions []domain.Subscription
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// HomeIDs is the list of homes to process. Empty subscribes to all homes.
	HomeIDs []string
}

// NewWorker creates a new async worker. sink may be nil.
func NewWorker(eventBus domain.EventBus, assessor *assess.Assessor, sink *assess.Sink, explain domain.ExplainLevel) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if explain == "" {
		explain = domain.ExplainSummary
	}
	return &Worker{
		bus:      eventBus,
		assessor: assessor,
		sink:     sink,
		explain:  explain,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given homes.
func (w *Worker) Start(cfg Config) error {
	homes := cfg.HomeIDs
	if len(homes) == 0 {
		homes = []string{bus.AllHomes}
	}

	started := 0
	for _, homeID := range homes {
		if err := w.startHomeWorker(homeID); err != nil {
			slog.Error("failed to start worker for home",
				"home_id", homeID,
				"error", err,
			)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no worker subscription could be started")
	}

	slog.Info("workers started", "home_count", started)

	return nil
}

// startHomeWorker subscribes to ingested events for one home, or every home
// when homeID is bus.AllHomes.
func (w *Worker) startHomeWorker(homeID string) error {
	sub, err := w.bus.Subscribe(w.ctx, homeID, domain.TopicEventIngested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("home worker started",
		"home_id", homeID,
		"topic", domain.TopicEventIngested,
	)

	return nil
}

// handleMessage assesses one ingested event.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var em domain.EventMessage
	if err := json.Unmarshal(msg.Payload, &em); err != nil {
		slog.Error("failed to parse event message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The bus envelope is authoritative for the home
	ev := em.Event
	ev.HomeID = msg.HomeID

	level := em.Explain
	if level == "" {
		level = w.explain
	}

	traceID := em.TraceID
	if traceID == "" {
		traceID = msg.Metadata[bus.MetaTraceID]
	}
	if traceID == "" {
		traceID = msg.ID
	}

	a, err := w.assessor.Assess(ctx, ev, level)
	if err != nil {
		slog.Warn("event rejected",
			"home_id", ev.HomeID,
			"track", ev.Track,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}
	if a.Metadata.TraceID == "" {
		a.Metadata.TraceID = traceID
	}
	ev.ID = a.EventID

	w.sink.Record(ctx, &ev, a)

	slog.Info("event processed",
		"home_id", a.HomeID,
		"track", a.Track,
		"incident_id", a.IncidentID,
		"action", a.Decision.Action,
		"severity", a.Decision.Severity.String(),
		"suppression", a.Suppression.Status,
		"trace_id", a.Metadata.TraceID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
