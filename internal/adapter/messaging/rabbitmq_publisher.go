package messaging

import (
	"context"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/stock-reservation/internal/port"
)

const exchangeType = "topic"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes order events to a topic exchange with routing
// key order.<status>.
type RabbitPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// SetupConn dials url, retrying while the broker starts, and declares the
// durable topic exchange.
func SetupConn(url, exchange string, maxRetry int) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i <= maxRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("failed to connect to rabbitmq")
		if i < maxRetry {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "could not open channel")
	}

	err = ch.ExchangeDeclare(
		exchange,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "could not declare exchange")
	}
	return conn, ch, nil
}

func NewRabbitPublisher(url, exchange string, maxRetry int) (*RabbitPublisher, error) {
	conn, ch, err := SetupConn(url, exchange, maxRetry)
	if err != nil {
		return nil, err
	}
	return &RabbitPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, event port.OrderEvent) error {
	body, err := encode(event)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		eventType(event),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.OrderID + ":" + string(event.Status),
			Timestamp:    event.OccurredAt,
			Type:         eventType(event),
			Body:         body,
		},
	)
	return errors.Wrapf(err, "rabbitmq publish %s", eventType(event))
}

func (p *RabbitPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return errors.Wrap(err, "close channel")
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
