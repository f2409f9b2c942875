package notifier

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/atelierhq/piece-market/internal/queue"
)

// ExchangeName is the fanout exchange carrying piece status events.  Every
// server instance binds its own queue to it, so each event reaches all
// instances rather than one competing consumer.
const ExchangeName = "piece.status"

// AMQPPublisher mirrors piece status events onto RabbitMQ so that other
// server instances (each running its own consumer) can notify their local
// subscribers.  Publish never panics; errors are logged and returned so the
// caller can ignore them without interrupting the request flow.
type AMQPPublisher struct {
	url    string
	origin string
}

// NewAMQPPublisher returns a publisher that dials the given broker URL on
// each publish.  Holding no long-lived connection keeps failure handling
// trivial at the modest event rates a reservation pool produces.  origin
// identifies this instance; it is stamped on every event so the instance's
// own consumer can drop the echo.
func NewAMQPPublisher(url, origin string) *AMQPPublisher {
	return &AMQPPublisher{url: url, origin: origin}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.PieceStatusEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the exchange exists (idempotent).  Durable so the topology
	// survives broker restarts; the bound queues are per-instance and
	// disposable.
	if err := ch.ExchangeDeclare(
		ExchangeName, // name
		"fanout",     // kind
		true,         // durable
		false,        // autoDelete
		false,        // internal
		false,        // noWait
		nil,          // args
	); err != nil {
		log.Printf("rabbitmq: exchange declare failed: %v", err)
		return err
	}

	ev.Origin = p.origin
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	}

	if err := ch.PublishWithContext(ctx,
		ExchangeName, // exchange
		"",           // routing key ignored by fanout
		false,        // mandatory
		false,        // immediate
		pub,
	); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		return err
	}

	return nil
}
