// Package notify publishes round lifecycle events. Delivery is
// fire-and-forget: failures are logged and never reach the caller.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"agora/governance/internal/clock"
	"agora/governance/internal/store"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	EventRoundStarted = "round.started"
	EventRoundClosed  = "round.closed"
)

type Event struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	CommunityID    int64      `json:"communityId"`
	CommunityName  string     `json:"communityName"`
	Bridged        bool       `json:"bridged"`
	RoundID        int64      `json:"roundId"`
	PromptID       int64      `json:"promptId"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	CompletionTime *time.Time `json:"completionTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	OccurredAt     time.Time  `json:"occurredAt"`
}

func newEvent(typ string, r store.Round, c store.Community, at time.Time) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           typ,
		CommunityID:    c.ID,
		CommunityName:  c.Name,
		Bridged:        c.IsBridge(),
		RoundID:        r.ID,
		PromptID:       r.PromptID,
		StartTime:      r.StartTime,
		CompletionTime: r.CompletionTime,
		EndTime:        r.EndTime,
		OccurredAt:     at,
	}
}

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka writes one JSON message per event, keyed by community id so a
// community's events stay ordered within a partition.
type Kafka struct {
	writer  MessageWriter
	clock   clock.Clock
	timeout time.Duration
}

func NewKafka(cfg KafkaConfig, c clock.Clock) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka notifier: no topic configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return NewKafkaWithWriter(w, c), nil
}

func NewKafkaWithWriter(w MessageWriter, c clock.Clock) *Kafka {
	if c == nil {
		c = clock.System{}
	}
	return &Kafka{writer: w, clock: c, timeout: 10 * time.Second}
}

func (k *Kafka) RoundStarted(ctx context.Context, r store.Round, c store.Community) {
	k.publish(ctx, newEvent(EventRoundStarted, r, c, k.clock.Now()))
}

func (k *Kafka) RoundClosed(ctx context.Context, r store.Round, c store.Community) {
	k.publish(ctx, newEvent(EventRoundClosed, r, c, k.clock.Now()))
}

func (k *Kafka) publish(ctx context.Context, ev Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		log.Printf("notify: marshal %s for round %d: %v", ev.Type, ev.RoundID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.CommunityID, 10)),
		Value: value,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("notify: publish %s for round %d: %v", ev.Type, ev.RoundID, err)
	}
}

func (k *Kafka) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Log writes events to the process log. It stands in when no broker is
// configured.
type Log struct{}

func (Log) RoundStarted(_ context.Context, r store.Round, c store.Community) {
	log.Printf("notify: round %d started in community %d (%s), completes %s", r.ID, c.ID, c.Name, formatTime(r.CompletionTime))
}

func (Log) RoundClosed(_ context.Context, r store.Round, c store.Community) {
	log.Printf("notify: round %d closed in community %d (%s)", r.ID, c.ID, c.Name)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
