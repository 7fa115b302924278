package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"notifyd/internal/config"
	"notifyd/internal/domain"
)

// EventSink receives decoded inbound events from the bus.
// Params: validated event.
// Returns: error asks for redelivery, nil acknowledges the message.
type EventSink interface {
	Push(event domain.Event) error
}

// Publisher emits outbound diagnostic events.
// Params: event to publish.
// Returns: publish error.
type Publisher interface {
	Publish(event domain.Event) error
}

// NATSBus consumes events via a JetStream queue consumer and publishes
// daemon-originated events back onto the bus.
// Params: NATS connection, JetStream queue subscription, and event sink.
// Returns: bus lifecycle handle.
type NATSBus struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	sub         *nats.Subscription
	emitSubject string
	logger      *slog.Logger
}

// NewNATSBus connects and starts the JetStream queue consumer.
// Params: bus config, inbound sink, and logger.
// Returns: started bus or initialization error.
func NewNATSBus(cfg config.BusConfig, sink EventSink, logger *slog.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	bus := &NATSBus{
		nc:          nc,
		js:          js,
		emitSubject: cfg.EmitSubject,
		logger:      logger,
	}
	ackWait := time.Duration(cfg.AckWaitSec) * time.Second
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.Consumer),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		event, decodeErr := domain.DecodeEvent(message.Data)
		if decodeErr != nil {
			logger.Warn("bus decode failed", "subject", message.Subject, "error", decodeErr.Error())
			bus.ackMessage(message, "decode")
			return
		}
		if pushErr := sink.Push(event); pushErr != nil {
			logger.Error("bus push failed", "subject", message.Subject, "error", pushErr.Error())
			bus.nackMessage(message, nackDelay)
			return
		}
		bus.ackMessage(message, "processed")
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	bus.sub = sub
	return bus, nil
}

// Publish emits one daemon-originated event onto the bus.
// Params: event (reload results, path outages, empty escalation chains).
// Returns: encode or publish error.
func (b *NATSBus) Publish(event domain.Event) error {
	body, err := event.Encode()
	if err != nil {
		return err
	}
	if _, err := b.js.Publish(b.emitSubject, body); err != nil {
		return fmt.Errorf("publish %q: %w", b.emitSubject, err)
	}
	return nil
}

// ackMessage acknowledges a processed or invalid message.
// Params: JetStream message and short reason.
// Returns: none; ack failures are logged.
func (b *NATSBus) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil {
		b.logger.Warn("bus ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver a message.
// Params: JetStream message and optional delay.
// Returns: none; nack failures are logged.
func (b *NATSBus) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		b.logger.Warn("bus nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains the subscription and closes the connection.
// Params: none.
// Returns: drain error.
func (b *NATSBus) Close() error {
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			b.nc.Close()
			return err
		}
	}
	b.nc.Close()
	return nil
}
