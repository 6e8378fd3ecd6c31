package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flowprobe/flowprobe/internal/model"
)

// rabbitDriver consumes a queue with manual acks, filtering on routing
// key; non-matching deliveries are requeued.
type rabbitDriver struct{}

var _ Listener = (*rabbitDriver)(nil)

type rabbitQuery struct {
	Queue      string
	RoutingKey string
}

type rabbitFound struct {
	Found      bool           `json:"found"`
	RoutingKey string         `json:"routingKey"`
	Body       string         `json:"body"`
	Headers    map[string]any `json:"headers"`
}

type rabbitMissed struct {
	Found   bool `json:"found"`
	Timeout bool `json:"timeout"`
}

func parseRabbitQuery(query string) (rabbitQuery, error) {
	var q rabbitQuery
	for _, field := range strings.Fields(query) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return q, fmt.Errorf("invalid rabbitmq query token %q", field)
		}
		switch k {
		case "queue":
			q.Queue = v
		case "routingKey":
			q.RoutingKey = v
		default:
			return q, fmt.Errorf("unknown rabbitmq query key %q", k)
		}
	}
	if q.Queue == "" {
		return q, errors.New("rabbitmq query requires queue=")
	}
	return q, nil
}

func rabbitURL(cfg map[string]string) string {
	if url := cfgValue(cfg, "url"); url != "" {
		return url
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		defaultStr(cfgValue(cfg, "username", "user"), "guest"),
		defaultStr(cfgValue(cfg, "password"), "guest"),
		defaultStr(cfgValue(cfg, "host"), "127.0.0.1"),
		defaultStr(cfgValue(cfg, "port"), "5672"),
	)
}

func (d *rabbitDriver) Execute(ctx context.Context, cfg map[string]string, query string, timeout time.Duration) (string, error) {
	handle, err := d.Listen(ctx, cfg, query)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = handle.Close()
	}()
	return handle.Await(ctx, timeout)
}

// Listen subscribes before the API call so the message cannot be missed.
func (d *rabbitDriver) Listen(_ context.Context, cfg map[string]string, query string) (ListenHandle, error) {
	q, err := parseRabbitQuery(query)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(rabbitURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	deliveries, err := ch.Consume(q.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to consume queue %q: %w", q.Queue, err)
	}

	return &rabbitHandle{conn: conn, ch: ch, deliveries: deliveries, query: q}, nil
}

type rabbitHandle struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	query      rabbitQuery
}

func (h *rabbitHandle) Await(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return marshalJSON(rabbitMissed{Timeout: true})
		case <-deadline.C:
			return marshalJSON(rabbitMissed{Timeout: true})
		case msg, ok := <-h.deliveries:
			if !ok {
				return marshalJSON(rabbitMissed{Timeout: true})
			}
			if h.query.RoutingKey != "" && msg.RoutingKey != h.query.RoutingKey {
				// Requeue for the real consumer.
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
			headers := map[string]any{}
			for k, v := range msg.Headers {
				headers[k] = v
			}
			return marshalJSON(rabbitFound{
				Found:      true,
				RoutingKey: msg.RoutingKey,
				Body:       string(msg.Body),
				Headers:    headers,
			})
		}
	}
}

func (h *rabbitHandle) Close() error {
	_ = h.ch.Close()
	return h.conn.Close()
}

func init() {
	Register(model.ConnectorRabbitMQ, func() Driver { return &rabbitDriver{} })
}
