package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// DeadLetter receives jobs that exhausted their retry budget, so they reach
// an operator instead of disappearing.
type DeadLetter interface {
	Publish(ctx context.Context, job *Job, reason string) error
}

// deadLetterMessage is the body published for an exhausted job.
type deadLetterMessage struct {
	Job      *Job      `json:"job"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

// AMQPDeadLetter publishes exhausted jobs to a durable RabbitMQ queue.
type AMQPDeadLetter struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPDeadLetter(url, queueName string) (*AMQPDeadLetter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	return &AMQPDeadLetter{conn: conn, ch: ch, queue: q.Name}, nil
}

func (d *AMQPDeadLetter) Publish(_ context.Context, job *Job, reason string) error {
	msg, err := encodeDeadLetter(job, reason)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch.Publish(
		"",
		d.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Timestamp:    time.Now().UTC(),
			Body:         msg,
		},
	)
}

func (d *AMQPDeadLetter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ch.Close(); err != nil {
		d.conn.Close()
		return err
	}
	return d.conn.Close()
}

// LogDeadLetter writes exhausted jobs to the log. It is used when no AMQP
// broker is configured.
type LogDeadLetter struct {
	Log zerolog.Logger
}

func (d LogDeadLetter) Publish(_ context.Context, job *Job, reason string) error {
	d.Log.Error().
		Str("job_id", job.ID).
		Str("campaign_id", job.Payload.CampaignID).
		Str("idempotency_key", job.Payload.IdempotencyKey).
		Int("attempts", job.Attempts).
		Str("reason", reason).
		Msg("dead letter")
	return nil
}

func encodeDeadLetter(job *Job, reason string) ([]byte, error) {
	return json.Marshal(deadLetterMessage{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
}
