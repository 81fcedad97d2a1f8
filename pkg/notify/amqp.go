package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"aluastro/pkg/domain"
)

// AMQPNotifier publishes events to a durable topic exchange.
type AMQPNotifier struct {
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPNotifier dials the broker and declares the exchange.
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "aluastro.events"
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(5 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{exchange: exchange, conn: conn, ch: ch}, nil
}

// ApplicationSubmitted publishes a persistent SubmittedEvent.
func (n *AMQPNotifier) ApplicationSubmitted(ctx context.Context, app domain.Application) error {
	body, err := json.Marshal(NewSubmittedEvent(app))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.ch.PublishWithContext(ctx, n.exchange, EventApplicationSubmitted, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    app.ID,
		Timestamp:    time.Now().UTC(),
		Type:         EventApplicationSubmitted,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", EventApplicationSubmitted, err)
	}
	return nil
}

// Close shuts down the channel and connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	chErr := n.ch.Close()
	connErr := n.conn.Close()
	return errors.Join(chErr, connErr)
}
