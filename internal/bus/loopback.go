package bus

import (
	"log/slog"
	"sync"

	"notifyd/internal/domain"
)

// LoopbackPublisher collects outbound events in memory.
// Params: used when the bus is disabled and in tests.
// Returns: publisher that only logs and records.
type LoopbackPublisher struct {
	log *slog.Logger

	mu     sync.Mutex
	events []domain.Event
}

// NewLoopbackPublisher creates an in-process publisher.
// Params: logger.
// Returns: initialized publisher.
func NewLoopbackPublisher(log *slog.Logger) *LoopbackPublisher {
	return &LoopbackPublisher{log: log}
}

// Publish records one outbound event.
// Params: event.
// Returns: nil.
func (p *LoopbackPublisher) Publish(event domain.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	p.log.Info("event emitted", "uei", event.UEI, "node", event.NodeID)
	return nil
}

// Events returns a copy of everything published so far.
// Params: none.
// Returns: recorded events in publish order.
func (p *LoopbackPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Event, len(p.events))
	copy(out, p.events)
	return out
}
