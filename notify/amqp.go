package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
)

// =============================================================================
// AMQP NOTIFIER
// =============================================================================

// publisher is the part of *amqp.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes codes as persistent JSON messages on the default exchange,
// routed to one queue.
type AMQP struct {
	ch    publisher
	queue string

	conn    *amqp.Connection
	channel *amqp.Channel
}

var _ bags.Notifier = (*AMQP)(nil)

// DialAMQP connects to the broker and declares the durable queue.
func DialAMQP(url, queue string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, multierr.Append(fmt.Errorf("amqp declare %s: %w", queue, err), conn.Close())
	}
	return &AMQP{ch: ch, queue: queue, conn: conn, channel: ch}, nil
}

func (n *AMQP) SendIssuanceCode(ctx context.Context, msg bags.IssuanceCode) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.IssueID,
		Type:         "issuance_code",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", msg.IssueID, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (n *AMQP) Close() error {
	var err error
	if n.channel != nil {
		err = multierr.Append(err, n.channel.Close())
	}
	if n.conn != nil {
		err = multierr.Append(err, n.conn.Close())
	}
	return err
}
