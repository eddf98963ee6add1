package push

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the fanout exchange push batches are published to.
const DefaultExchange = "push_fanout"

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPTransport publishes each batch as one JSON array to a fanout
// exchange. An external sender owns delivery.
type AMQPTransport struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// DialAMQP connects to url and declares exchange.
func DialAMQP(url, exchange string) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	t, err := newAMQPTransport(ch, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	t.conn = conn
	return t, nil
}

func newAMQPTransport(ch amqpChannel, exchange string) (*AMQPTransport, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPTransport{ch: ch, exchange: exchange}, nil
}

// Send implements Transport.
func (t *AMQPTransport) Send(ctx context.Context, msgs []Message) (Report, error) {
	if len(msgs) == 0 {
		return Report{}, nil
	}
	body, err := json.Marshal(msgs)
	if err != nil {
		return Report{}, fmt.Errorf("failed to marshal push batch: %w", err)
	}
	err = t.ch.PublishWithContext(ctx, t.exchange, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		rep := Report{Failed: len(msgs)}
		for _, m := range msgs {
			rep.FailedTokens = append(rep.FailedTokens, m.Token)
		}
		return rep, fmt.Errorf("failed to publish push batch: %w", err)
	}
	return Report{Sent: len(msgs)}, nil
}

// Close closes the channel and the connection.
func (t *AMQPTransport) Close() error {
	err := t.ch.Close()
	if t.conn != nil {
		if cerr := t.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
