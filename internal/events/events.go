// Package events announces processing progress on a message queue so that
// downstream consumers (report builders, alerting) can react without polling
// the ledger.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/procerr"
)

// DefaultQueue is the durable queue events are routed to.
const DefaultQueue = "canopy.processing"

// Type names the kind of event.
type Type string

const (
	TypeDateProcessed Type = "date_processed"
	TypeDateFailed    Type = "date_failed"
	TypePlotCompleted Type = "plot_completed"
	TypeRunCompleted  Type = "run_completed"
)

// Event is the JSON body of one message.
type Event struct {
	ID            string    `json:"event_id"`
	Type          Type      `json:"type"`
	RunID         string    `json:"run_id"`
	PlotID        string    `json:"plot_id,omitempty"`
	Date          string    `json:"date,omitempty"`
	Indices       []string  `json:"indices,omitempty"`
	QualityGrade  string    `json:"quality_grade,omitempty"`
	CloudCoverage *float64  `json:"cloud_coverage,omitempty"`
	OutputPath    string    `json:"output_path,omitempty"`
	Error         string    `json:"error,omitempty"`
	Successful    int       `json:"successful,omitempty"`
	Failed        int       `json:"failed,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewEvent stamps an event with a fresh ID.
func NewEvent(t Type, runID string, now time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, RunID: runID, Timestamp: now.UTC()}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Memory keeps published events in order. Useful for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType filters Events by type.
func (m *Memory) OfType(t Type) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to a durable queue.
type AMQPPublisher struct {
	conn  *amqp.Connection
	mu    sync.Mutex
	ch    channel
	queue string

	published atomic.Int64
	failed    atomic.Int64
}

// DialAMQP connects to url and declares queue.
func DialAMQP(url, queue string) (*AMQPPublisher, error) {
	const op = "events.DialAMQP"
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, procerr.Wrap(procerr.KindConfiguration, op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, procerr.Wrap(procerr.KindConfiguration, op, err)
	}
	p, err := newAMQPPublisher(ch, queue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch channel, queue string) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, procerr.Wrap(procerr.KindConfiguration, "events.QueueDeclare", err)
	}
	return &AMQPPublisher{ch: ch, queue: queue}, nil
}

// Publish sends ev. amqp channels are not safe for concurrent publishing,
// so calls are serialised.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		Timestamp:    ev.Timestamp,
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.published.Add(1)
	return nil
}

// Counts reports how many publishes succeeded and failed.
func (p *AMQPPublisher) Counts() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	published, failed := p.Counts()
	monitoring.Logf("events: closed %s (published=%d failed=%d)", p.queue, published, failed)
	return err
}
