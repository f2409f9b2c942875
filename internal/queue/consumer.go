package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const pieceStatusExchange = "piece.status"

// StartPieceStatusConsumer connects to RabbitMQ, binds an exclusive
// auto-delete queue to the piece.status fanout exchange and hands every
// event to sink (typically the local notifier hub, so subscribers on this
// instance see transitions performed by other instances).  Each instance
// owns its own queue, so every instance receives every event; events
// carrying this instance's own origin are dropped, since the local hub was
// already notified directly at publish time.  It runs a reconnect loop with
// exponential backoff and keeps going after processing errors; malformed
// messages are rejected without requeue so the stream never wedges.
func StartPieceStatusConsumer(url, origin string, sink func(PieceStatusEvent)) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("piece-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(conn, origin, sink); err != nil {
			log.Printf("piece-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
			continue
		}
	}
}

func consumeLoop(conn *amqp.Connection, origin string, sink func(PieceStatusEvent)) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("piece-consumer: set QoS failed: %v", err)
	}

	if err := ch.ExchangeDeclare(pieceStatusExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}

	// Server-named, exclusive and auto-delete: the queue lives and dies
	// with this instance, and missed events cost nothing because clients
	// re-fetch on reconnect anyway.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", pieceStatusExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		var ev PieceStatusEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			log.Printf("piece-consumer: unmarshal failed: %v", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		if !ev.FromOrigin(origin) {
			sink(ev)
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}
