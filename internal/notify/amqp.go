package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpEnvelope - тело сообщения в очереди
type amqpEnvelope struct {
	JobID   int64           `json:"job_id"`
	Kind    string          `json:"kind"`
	UserID  int64           `json:"user_id"`
	ChatID  *int64          `json:"chat_id,omitempty"`
	Text    string          `json:"text"`
	Payload json.RawMessage `json:"payload"`
}

// AMQPSender публикует уведомления в durable очередь RabbitMQ для внешнего доставщика
type AMQPSender struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSender(url, queue string) (*AMQPSender, error) {
	s := &AMQPSender{url: url, queue: queue}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// connect открывает соединение и канал и объявляет очередь (идемпотентно)
func (s *AMQPSender) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		s.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	s.conn = conn
	s.ch = ch
	return nil
}

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(amqpEnvelope{
		JobID:   msg.JobID,
		Kind:    string(msg.Kind),
		UserID:  msg.UserID,
		ChatID:  msg.ChatID,
		Text:    msg.Text,
		Payload: msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w: %v", ErrUndeliverable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() || s.ch == nil || s.ch.IsClosed() {
		s.closeLocked()
		if err := s.connect(); err != nil {
			return err
		}
	}

	err = s.ch.PublishWithContext(ctx,
		"",      // default exchange
		s.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("notification-%d", msg.JobID),
			Type:         string(msg.Kind),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *AMQPSender) closeLocked() error {
	var err error
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	return err
}
