package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypePaymentVerified      = "payment.verified"
	TypePaymentFailed        = "payment.failed"
	TypeCreditUsed           = "credit.used"
	TypeCreditRestored       = "credit.restored"
	TypeSponsorshipFinalized = "sponsorship.finalized"
)

// Event is the envelope published for every ledger change. Amounts are in
// smallest token units.
type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	Signature   string    `json:"signature,omitempty"`
	PaymentID   string    `json:"paymentId,omitempty"`
	SponsoredID string    `json:"sponsoredId,omitempty"`
	Amount      uint64    `json:"amount"`
	Status      string    `json:"status,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Publish keys messages by user so one user's events stay ordered.
func (k *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if e.OccurredAt.IsZero() {
			e.OccurredAt = time.Now().UTC()
		}
		v, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.UserID),
			Value: v,
			Time:  e.OccurredAt,
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// Nop drops every event; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                           { return nil }

// New returns a Kafka publisher, or Nop when brokers is empty.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Types returns the types of the recorded events in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Close() error { return nil }
