package broker

import (
	"context"
	"encoding/json"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ Producer = &AMQPBroker{}
var _ Consumer = &AMQPBroker{}

const (
	changeExchange string = "billing_changes"
	changeQueue           = "billing_changes_worker"
	changeRouting         = "contract"
)

// AMQPBroker moves change notifications over RabbitMQ.
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a message broker over RabbitMQ.
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupChangeExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for change notifications")
	}
	return broker, nil
}

func (a *AMQPBroker) setupChangeExchange() error {
	return a.channel.ExchangeDeclare(
		changeExchange, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// SendChangeNotification publishes one notification for the worker.
func (a *AMQPBroker) SendChangeNotification(n *ChangeNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode notification into bytes")
	}
	if err := a.channel.Publish(
		changeExchange,
		changeRouting,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish change notification")
	}
	return nil
}

// ReceiveChangeNotifications binds the worker queue and returns a channel of
// decoded notifications.
func (a *AMQPBroker) ReceiveChangeNotifications(ctx context.Context) (<-chan *ChangeNotification, error) {
	if _, err := a.channel.QueueDeclare(
		changeQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	if err := a.channel.QueueBind(
		changeQueue,
		changeRouting,
		changeExchange,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot bind queue")
	}
	msgChan, err := a.channel.Consume(
		changeQueue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}

	rChan := make(chan *ChangeNotification)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-msgChan:
				var n ChangeNotification
				if err := json.Unmarshal(d.Body, &n); err != nil {
					d.Nack(false, false)
					continue
				}
				rChan <- &n
				d.Ack(false)
			}
		}
	}()
	return rChan, nil
}
