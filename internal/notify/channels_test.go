package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/streadway/amqp"

	"github.com/jobreel/backend/internal/models"
)

type sqsStub struct {
	input *sqs.SendMessageInput
	err   error
}

func (s *sqsStub) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.input = params
	if s.err != nil {
		return nil, s.err
	}
	return &sqs.SendMessageOutput{}, nil
}

type publisherStub struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (p *publisherStub) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.exchange = exchange
	p.key = key
	p.msg = msg
	return nil
}

func (p *publisherStub) Close() error {
	p.closed = true
	return nil
}

func testRecord() models.NotificationRecord {
	return models.NotificationRecord{
		ID:        "n-1",
		UserID:    "seeker-1",
		Type:      models.NotificationVideoBlocked,
		Payload:   map[string]string{"videoId": "video-1"},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQSChannelDeliver(t *testing.T) {
	client := &sqsStub{}
	channel := NewSQSChannel(client, "https://sqs.us-east-1.amazonaws.com/123/notifications")

	if err := channel.Deliver(context.Background(), testRecord()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if got := *client.input.QueueUrl; got != "https://sqs.us-east-1.amazonaws.com/123/notifications" {
		t.Fatalf("unexpected queue url %q", got)
	}
	var msg Message
	if err := json.Unmarshal([]byte(*client.input.MessageBody), &msg); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if msg.Type != "video_blocked" || msg.Payload["videoId"] != "video-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if *client.input.MessageAttributes["type"].StringValue != "video_blocked" {
		t.Fatal("expected type message attribute")
	}

	client.err = errors.New("throttled")
	if err := channel.Deliver(context.Background(), testRecord()); err == nil {
		t.Fatal("expected send error to propagate")
	}
}

func TestAMQPChannelDeliver(t *testing.T) {
	publisher := &publisherStub{}
	channel := NewAMQPChannelWithOpener("notifications", func() (AMQPPublisher, error) { return publisher, nil })

	if err := channel.Deliver(context.Background(), testRecord()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if publisher.exchange != "notifications" || publisher.key != "notification.video_blocked" {
		t.Fatalf("unexpected routing %s/%s", publisher.exchange, publisher.key)
	}
	if publisher.msg.MessageId != "n-1" || publisher.msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing %+v", publisher.msg)
	}
	if !publisher.closed {
		t.Fatal("expected channel to be closed after publish")
	}

	failing := NewAMQPChannelWithOpener("notifications", func() (AMQPPublisher, error) { return nil, errors.New("connection closed") })
	if err := failing.Deliver(context.Background(), testRecord()); err == nil {
		t.Fatal("expected open error to propagate")
	}
}
