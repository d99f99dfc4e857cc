package publisher

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/metrics"
	"github.com/shopforge/portal-agent/pkg/model"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes session events to a topic exchange, routed by event type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	service  string
	logger   *zap.Logger
}

// NewAMQP dials url and declares exchange as a durable topic exchange.
func NewAMQP(logger *zap.Logger, url, exchange, service string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, service: service, logger: logger}, nil
}

// publishing builds the AMQP message for evt.
func (p *AMQPPublisher) publishing(evt model.SessionEvent) (amqp.Publishing, error) {
	body, err := encode(evt)
	if err != nil {
		return amqp.Publishing{}, err
	}
	table := amqp.Table{}
	for k, v := range headers(evt, p.service) {
		table[k] = v
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID.String(),
		Type:         string(evt.Type),
		AppId:        p.service,
		Timestamp:    evt.Timestamp,
		Headers:      table,
		Body:         body,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt model.SessionEvent) error {
	msg, err := p.publishing(evt)
	if err != nil {
		metrics.IncPublishError("amqp")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.channel.PublishWithContext(ctx, p.exchange, string(evt.Type), false, false, msg); err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("exchange", p.exchange),
			zap.String("routing_key", string(evt.Type)),
			zap.Error(err))
		metrics.IncPublishError("amqp")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("routing_key", string(evt.Type)),
		zap.String("event_id", evt.ID.String()))
	return nil
}

// Connected reports broker connectivity for health checks.
func (p *AMQPPublisher) Connected() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
