package events

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Producer publishes order lifecycle events through a buffered inbox so
// request handlers never block on the broker. Publishing is best-effort:
// write errors are logged, not surfaced.
type Producer struct {
	w       *kafkago.Writer
	inbox   chan kafkago.Message
	closeCh chan struct{}
	name    string

	mu     sync.Mutex
	closed bool
}

func NewProducer(brokers []string, topic, producerName string, buf int) *Producer {
	return &Producer{
		w: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
		},
		inbox:   make(chan kafkago.Message, buf),
		closeCh: make(chan struct{}),
		name:    producerName,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				for m := range p.inbox {
					p.write(m)
				}
				_ = p.w.Close()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafkago.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		log.Printf("events: publish %s: %v", m.Key, err)
	}
}

// PublishOrderEvent wraps the payload in a versioned envelope keyed by order
// id so all events for one order land on the same partition in order.
func (p *Producer) PublishOrderEvent(eventType string, orderID int64, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("events: marshal %s payload: %v", eventType, err)
		return
	}

	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Producer:   p.name,
		Payload:    raw,
	}
	value, err := json.Marshal(env)
	if err != nil {
		log.Printf("events: marshal %s envelope: %v", eventType, err)
		return
	}

	msg := kafkago.Message{
		Key:   []byte(strconv.FormatInt(orderID, 10)),
		Value: value,
		Time:  time.Now(),
		Headers: []kafkago.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
		},
	}

	// The closed check and the send share the mutex so Close cannot close
	// the inbox between them.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	select {
	case p.inbox <- msg:
	default:
		log.Printf("events: inbox full, dropping %s for order %d", eventType, orderID)
	}
}

// Close stops accepting events and flushes the remaining inbox. Safe to call
// more than once and concurrently with publishers.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the flush goroutine exits.
func (p *Producer) WaitClosed() { <-p.closeCh }
