package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/streadway/amqp"

	"github.com/jobreel/backend/internal/models"
)

// Message is the wire form published to external channels.
type Message struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Type      string            `json:"type"`
	Payload   map[string]string `json:"payload"`
	CreatedAt time.Time         `json:"createdAt"`
}

// EncodeMessage renders a record as a JSON message body.
func EncodeMessage(record models.NotificationRecord) ([]byte, error) {
	return json.Marshal(Message{
		ID:        record.ID,
		UserID:    record.UserID,
		Type:      string(record.Type),
		Payload:   record.Payload,
		CreatedAt: record.CreatedAt,
	})
}

// LogChannel writes notifications to the structured log. It is always
// registered so every notification leaves a trace.
type LogChannel struct {
	Logger *slog.Logger
}

func (c LogChannel) Name() string { return "log" }

func (c LogChannel) Deliver(_ context.Context, record models.NotificationRecord) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("owner notification", "notification_id", record.ID, "user_id", record.UserID, "type", string(record.Type), "payload", record.Payload)
	return nil
}

// SQSAPI is the subset of the SQS client used for delivery.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSChannel publishes notifications to an SQS queue consumed by the
// email/push fan-out service.
type SQSChannel struct {
	client   SQSAPI
	queueURL string
}

// NewSQSChannel constructs an SQS-backed channel.
func NewSQSChannel(client SQSAPI, queueURL string) *SQSChannel {
	return &SQSChannel{client: client, queueURL: queueURL}
}

func (c *SQSChannel) Name() string { return "sqs" }

func (c *SQSChannel) Deliver(ctx context.Context, record models.NotificationRecord) error {
	body, err := EncodeMessage(record)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(string(record.Type))},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// AMQPPublisher is the subset of an AMQP channel used for delivery.
type AMQPPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPChannel publishes notifications to a RabbitMQ exchange, routed by
// notification type.
type AMQPChannel struct {
	exchange string
	open     func() (AMQPPublisher, error)
}

// NewAMQPChannel publishes through channels opened on conn.
func NewAMQPChannel(conn *amqp.Connection, exchange string) *AMQPChannel {
	return NewAMQPChannelWithOpener(exchange, func() (AMQPPublisher, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
}

// NewAMQPChannelWithOpener publishes through publishers returned by open.
func NewAMQPChannelWithOpener(exchange string, open func() (AMQPPublisher, error)) *AMQPChannel {
	return &AMQPChannel{exchange: exchange, open: open}
}

func (c *AMQPChannel) Name() string { return "amqp" }

func (c *AMQPChannel) Deliver(_ context.Context, record models.NotificationRecord) error {
	body, err := EncodeMessage(record)
	if err != nil {
		return fmt.Errorf("encode amqp message: %w", err)
	}

	ch, err := c.open()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.Publish(c.exchange, "notification."+string(record.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    record.ID,
		Timestamp:    record.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

var (
	_ Channel = LogChannel{}
	_ Channel = (*SQSChannel)(nil)
	_ Channel = (*AMQPChannel)(nil)
)
