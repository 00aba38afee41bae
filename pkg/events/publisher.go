// Package events publishes booking domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Routing keys
const (
	BookingCreated   = "booking.created"
	BookingUpdated   = "booking.updated"
	BookingCancelled = "booking.cancelled"
	BookingDeleted   = "booking.deleted"
	SeatsSwapped     = "seats.swapped"
	SeatsTransferred = "seats.transferred"
	TicketPaid       = "ticket.paid"
	TicketRefunded   = "ticket.refunded"
	MaintenanceRun   = "maintenance.completed"
)

// Event is the envelope written to the exchange
type Event struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Actor      string      `json:"actor,omitempty"`
	Payload    interface{} `json:"payload"`
}

// Publisher emits domain events. Failures never abort the mutation that
// produced the event.
type Publisher interface {
	Publish(ctx context.Context, eventType, actor string, payload interface{}) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *logrus.Logger
	mu       sync.Mutex
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(url, exchange string, logger *logrus.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare failed: %w", err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends one event. The channel is not safe for concurrent use, so
// publishes are serialized.
func (p *AMQPPublisher) Publish(ctx context.Context, eventType, actor string, payload interface{}) error {
	body, err := Encode(eventType, actor, payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		eventType,  // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.logger.WithError(err).WithField("event", eventType).Warn("rabbitmq publish failed")
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	return nil
}

// Close closes the channel and the connection
func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Encode builds the JSON body of an event
func Encode(eventType, actor string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(Event{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", eventType, err)
	}
	return body, nil
}

// LogPublisher writes events to the log instead of a broker
type LogPublisher struct {
	logger *logrus.Logger
}

// NewLogPublisher creates a publisher for deployments without RabbitMQ
func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, eventType, actor string, payload interface{}) error {
	p.logger.WithFields(logrus.Fields{
		"event":   eventType,
		"actor":   actor,
		"payload": payload,
	}).Debug("domain event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
