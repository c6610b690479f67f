/*
Package mq manages the connection with RabbitMQ and republishes inbound
client events to a topic exchange, so external consumers (audit tooling,
analytics) can observe the relay traffic without joining a room.  The
mirror is optional; the relay runs without a broker.
*/
package mq

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/BelikovArtem/relay/pkg/event"

	"github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "relay"
	queueName    = "relay.events"
	publishWait  = 5 * time.Second
)

/*
Dialer wraps a single AMQP connection to RabbitMQ.  Only a single
connection is used to save resources and be able to handle more WebSocket
clients.
*/
type Dialer struct {
	Connection *amqp091.Connection
}

// NewDialer connects to the RabbitMQ at the provided URL.
func NewDialer(url string) (Dialer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return Dialer{}, err
	}

	return Dialer{Connection: conn}, nil
}

// Release closes the underlying AMQP connection.
func (d Dialer) Release() {
	d.Connection.Close()
}

// Mirror publishes events onto the relay exchange over a dedicated channel.
type Mirror struct {
	channel *amqp091.Channel
}

/*
NewMirror opens a channel and declares the topology: the relay topic
exchange and the events queue bound to it.
*/
func NewMirror(d Dialer) (*Mirror, error) {
	ch, err := d.Connection.Channel()
	if err != nil {
		log.Printf("cannot open a RabbitMQ channel: %s", err)
		return nil, err
	}

	err = ch.ExchangeDeclare(exchangeName, "topic", false, true, false, false, nil)
	if err != nil {
		ch.Close()
		log.Printf("cannot declare an exchange: %s", err)
		return nil, err
	}

	q, err := ch.QueueDeclare(queueName, false, true, false, false, nil)
	if err != nil {
		ch.Close()
		log.Printf("cannot declare the events queue: %s", err)
		return nil, err
	}

	err = ch.QueueBind(q.Name, q.Name, exchangeName, false, nil)
	if err != nil {
		ch.Close()
		log.Printf("cannot bind \"%s\" queue to exchange: %s", q.Name, err)
		return nil, err
	}

	return &Mirror{channel: ch}, nil
}

/*
Publish republishes a single client event.  Waits up to 5 seconds for the
event to be published; otherwise, an error is logged.  Failures never
propagate to the clients.
*/
func (m *Mirror) Publish(e event.ClientEvent) {
	raw, err := json.Marshal(e)
	if err != nil {
		log.Printf("cannot encode event from \"%s\": %s", e.ConnID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishWait)
	defer cancel()

	err = m.channel.PublishWithContext(
		ctx,
		exchangeName,
		queueName,
		false,
		false,
		amqp091.Publishing{
			Body:        raw,
			ContentType: "application/json",
		},
	)
	if err != nil {
		log.Printf("cannot publish a message: %s", err)
	}
}

// Close closes the mirror channel to prevent memory leaks.
func (m *Mirror) Close() {
	m.channel.Close()
}
