package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends VisitEvents to a durable queue on the default exchange.
// It dials per publish; visit operations are infrequent and this keeps no
// connection state to repair.
type Publisher struct {
	url    string
	queue  string
	logger *slog.Logger
}

func NewPublisher(url, queueName string, logger *slog.Logger) *Publisher {
	return &Publisher{url: url, queue: queueName, logger: logger}
}

// Publish marshals ev and publishes it as a persistent message. Errors are
// logged and returned so the caller can ignore them.
func (p *Publisher) Publish(ctx context.Context, ev VisitEvent) error {
	log := p.logger.With(slog.String("event", ev.Event), slog.Uint64("visit_id", ev.VisitID))

	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(2 * time.Second)})
	if err != nil {
		log.Warn("rabbitmq: dial failed", slog.Any("err", err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq: channel open failed", slog.Any("err", err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		log.Warn("rabbitmq: queue declare failed", slog.Any("err", err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		log.Warn("rabbitmq: marshal event failed", slog.Any("err", err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Event,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		log.Warn("rabbitmq: publish failed", slog.Any("err", err))
		return err
	}
	return nil
}
