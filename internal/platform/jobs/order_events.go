package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/maherkar/api/internal/services"
)

// orderEventMessage is the JSON body published for each order event.
type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	Status         string         `json:"status"`
	FailureReason  string         `json:"failureReason,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func newOrderEventMessage(event services.OrderEvent) orderEventMessage {
	return orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		PreviousStatus: string(event.PreviousStatus),
		Status:         string(event.CurrentStatus),
		FailureReason:  string(event.FailureReason),
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
}

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic, ordered per order.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderEvent blocks until the server acknowledges the message.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if strings.TrimSpace(event.Type) == "" || strings.TrimSpace(event.OrderID) == "" {
		return errors.New("pubsub order publisher: event type and order id are required")
	}
	data, err := p.marshal(newOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string, 4)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.CurrentStatus))
	setAttr(attrs, "reason", string(event.FailureReason))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubOrderEventPublisher) Stop() {
	p.topic.Stop()
}

// LogOrderEventPublisher writes order events to the log. It stands in for Pub/Sub in local runs.
type LogOrderEventPublisher struct {
	logger *zap.Logger
}

var _ services.OrderEventPublisher = (*LogOrderEventPublisher)(nil)

// NewLogOrderEventPublisher constructs a log-only publisher.
func NewLogOrderEventPublisher(logger *zap.Logger) *LogOrderEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOrderEventPublisher{logger: logger.Named("order-events")}
}

func (p *LogOrderEventPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.logger.Info(event.Type,
		zap.String("orderId", event.OrderID),
		zap.String("status", string(event.CurrentStatus)),
		zap.String("reason", string(event.FailureReason)),
		zap.Time("occurredAt", event.OccurredAt),
	)
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
