package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/flowprobe/flowprobe/internal/model"
)

// kafkaDriver watches a topic for a message, optionally filtered by
// key. Partitions are assigned explicitly and positioned at their end
// offsets before the API call fires, so there is no consumer-group
// join to race against.
type kafkaDriver struct{}

var _ Listener = (*kafkaDriver)(nil)

type kafkaQuery struct {
	Topic string
	Key   string
}

type kafkaFound struct {
	Found     bool   `json:"found"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Timestamp int64  `json:"timestamp"`
}

type kafkaMissed struct {
	Found   bool `json:"found"`
	Timeout bool `json:"timeout"`
}

func parseKafkaQuery(query string) (kafkaQuery, error) {
	var q kafkaQuery
	for _, field := range strings.Fields(query) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return q, fmt.Errorf("invalid kafka query token %q", field)
		}
		switch k {
		case "topic":
			q.Topic = v
		case "key":
			q.Key = v
		default:
			return q, fmt.Errorf("unknown kafka query key %q", k)
		}
	}
	return q, nil
}

func kafkaBrokers(cfg map[string]string) []string {
	raw := cfgValue(cfg, "brokers", "bootstrapServers", "addr")
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (d *kafkaDriver) Execute(ctx context.Context, cfg map[string]string, query string, timeout time.Duration) (string, error) {
	q, err := parseKafkaQuery(query)
	if err != nil {
		return "", err
	}
	brokers := kafkaBrokers(cfg)
	if len(brokers) == 0 {
		return "", errors.New("kafka connector requires brokers")
	}

	if q.Topic == "" {
		return listKafkaTopics(ctx, brokers)
	}

	handle, err := d.Listen(ctx, cfg, query)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = handle.Close()
	}()
	return handle.Await(ctx, timeout)
}

// Listen arms the subscription before the API call. Every partition's
// end offset is resolved here, so Listen only returns once a message
// produced from this moment on is guaranteed to be observed.
func (d *kafkaDriver) Listen(ctx context.Context, cfg map[string]string, query string) (ListenHandle, error) {
	q, err := parseKafkaQuery(query)
	if err != nil {
		return nil, err
	}
	if q.Topic == "" {
		return nil, errors.New("kafka pre-listen requires a topic")
	}
	brokers := kafkaBrokers(cfg)
	if len(brokers) == 0 {
		return nil, errors.New("kafka connector requires brokers")
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka dial failed: %w", err)
	}
	partitions, err := conn.ReadPartitions(q.Topic)
	_ = conn.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions of %q: %w", q.Topic, err)
	}

	handle := &kafkaHandle{query: q}
	for _, p := range partitions {
		leader, err := dialer.DialLeader(ctx, "tcp", brokers[0], q.Topic, p.ID)
		if err != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("failed to dial leader of partition %d: %w", p.ID, err)
		}
		end, err := leader.ReadLastOffset()
		_ = leader.Close()
		if err != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("failed to read end offset of partition %d: %w", p.ID, err)
		}

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     q.Topic,
			Partition: p.ID,
			MinBytes:  1,
			MaxBytes:  10 << 20,
		})
		if err := reader.SetOffset(end); err != nil {
			_ = reader.Close()
			_ = handle.Close()
			return nil, fmt.Errorf("failed to seek partition %d: %w", p.ID, err)
		}
		handle.readers = append(handle.readers, reader)
	}
	return handle, nil
}

// kafkaFetcher is the slice of kafka.Reader the handle consumes
// through.
type kafkaFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type kafkaHandle struct {
	readers []kafkaFetcher
	query   kafkaQuery
}

type kafkaFetch struct {
	msg kafka.Message
	err error
}

func (h *kafkaHandle) Await(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan kafkaFetch, len(h.readers))
	for _, r := range h.readers {
		reader := r
		go func() {
			for {
				msg, err := reader.FetchMessage(ctx)
				if err != nil {
					results <- kafkaFetch{err: err}
					return
				}
				if h.query.Key != "" && string(msg.Key) != h.query.Key {
					continue
				}
				results <- kafkaFetch{msg: msg}
				return
			}
		}()
	}

	for pending := len(h.readers); pending > 0; pending-- {
		f := <-results
		if f.err != nil {
			if errors.Is(f.err, context.DeadlineExceeded) || errors.Is(f.err, context.Canceled) {
				continue
			}
			return "", fmt.Errorf("kafka fetch failed: %w", f.err)
		}
		return marshalJSON(kafkaFound{
			Found:     true,
			Key:       string(f.msg.Key),
			Value:     string(f.msg.Value),
			Partition: f.msg.Partition,
			Offset:    f.msg.Offset,
			Timestamp: f.msg.Time.UnixMilli(),
		})
	}
	return marshalJSON(kafkaMissed{Timeout: true})
}

func (h *kafkaHandle) Close() error {
	var firstErr error
	for _, r := range h.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func listKafkaTopics(ctx context.Context, brokers []string) (string, error) {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return "", fmt.Errorf("kafka dial failed: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return "", fmt.Errorf("failed to read partitions: %w", err)
	}
	seen := map[string]struct{}{}
	var topics []string
	for _, p := range partitions {
		if _, ok := seen[p.Topic]; !ok {
			seen[p.Topic] = struct{}{}
			topics = append(topics, p.Topic)
		}
	}
	sort.Strings(topics)
	return marshalJSON(map[string]any{"topics": topics})
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func init() {
	Register(model.ConnectorKafka, func() Driver { return &kafkaDriver{} })
}
