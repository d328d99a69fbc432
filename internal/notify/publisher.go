// Package notify hands new message events for offline recipients to the
// notification collaborator through a RabbitMQ topic exchange.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace-chat/internal/chat"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const RoutingKeyNewMessage = "message.new"

var ErrClosed = errors.New("publisher is closed")

// Config defines fields used for parsing from environment variables
type Config struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" envDefault:"chat.events"`
}

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements chat.Notifier
type Publisher struct {
	logger   *zap.SugaredLogger
	exchange string

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     channel
	closed bool
}

// Dial connects to cfg.URL and declares the durable topic exchange
func Dial(logger *zap.SugaredLogger, cfg Config) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp.Dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("conn.Channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ch.ExchangeDeclare: %w", err)
	}

	return &Publisher{logger: logger, exchange: cfg.Exchange, conn: conn, ch: ch}, nil
}

func (p *Publisher) NewMessage(ctx context.Context, evt chat.NewMessageEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyNewMessage, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKeyNewMessage, err)
	}

	p.logger.Debugw("new message published", "message", evt.MessageID, "recipients", evt.Recipients)
	return nil
}

// Close closes the channel and the connection, it is safe to call more than once
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
