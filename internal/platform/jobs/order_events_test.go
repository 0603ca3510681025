package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.reconciliation.required",
		OrderID:        "ord_01HZX",
		PreviousStatus: domain.PaymentStatusPending,
		CurrentStatus:  domain.PaymentStatusFailed,
		FailureReason:  domain.FailureReasonProvisioningResourceNotFound,
		OccurredAt:     occurred,
		Metadata:       map[string]any{"refId": "201"},
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	wantAttrs := map[string]string{
		"type":    "order.reconciliation.required",
		"orderId": "ord_01HZX",
		"status":  "failed",
		"reason":  string(domain.FailureReasonProvisioningResourceNotFound),
	}
	for key, want := range wantAttrs {
		if got := msg.Attributes[key]; got != want {
			t.Fatalf("attribute %s: expected %q, got %q", key, want, got)
		}
	}
	if msg.OrderingKey != "ord_01HZX" {
		t.Fatalf("expected ordering key to be the order id, got %q", msg.OrderingKey)
	}

	var payload orderEventMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.PreviousStatus != "pending" || !payload.OccurredAt.Equal(occurred) || payload.Metadata["refId"] != "201" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestPubSubOrderEventPublisherOmitsEmptyReason(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	err = publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:          "order.created",
		OrderID:       "ord_1",
		CurrentStatus: domain.PaymentStatusPending,
	})
	if err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	if _, ok := srv.Messages()[0].Attributes["reason"]; ok {
		t.Fatal("reason attribute should be omitted when empty")
	}
}

func TestPubSubOrderEventPublisherRejectsIncompleteEvent(t *testing.T) {
	_, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{Type: "order.paid"}); err == nil {
		t.Fatal("expected error for missing order id")
	}
}

func TestLogOrderEventPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	publisher := NewLogOrderEventPublisher(zap.New(core))

	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:          "order.paid",
		OrderID:       "ord_9",
		CurrentStatus: domain.PaymentStatusPaid,
	}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	entries := logs.FilterMessage("order.paid").All()
	if len(entries) != 1 || entries[0].ContextMap()["orderId"] != "ord_9" {
		t.Fatalf("unexpected log entries %+v", logs.All())
	}
}
