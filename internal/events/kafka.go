package events

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaNotifier produces events to the survey events topic. Messages are
// keyed by survey id so one survey's events stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaNotifier builds an async writer; delivery errors surface in the
// completion callback and are logged there.
func NewKafkaNotifier(brokers []string, topic, clientID string, logger *zap.Logger) *KafkaNotifier {
	log := logger.Named("events")
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
		Transport:    &kafkago.Transport{ClientID: clientID},
		Completion: func(msgs []kafkago.Message, err error) {
			for _, m := range msgs {
				event := headerValue(m, "eventType")
				if err != nil {
					log.Warn("event delivery failed", zap.String("event_type", event), zap.ByteString("key", m.Key), zap.Error(err))
					metrics.Events.WithLabelValues(event, "failed").Inc()
					continue
				}
				metrics.Events.WithLabelValues(event, "delivered").Inc()
			}
		},
	}
	return &KafkaNotifier{writer: w, logger: log}
}

func (n *KafkaNotifier) Publish(ctx context.Context, e Event) {
	msg, err := buildMessage(e)
	if err != nil {
		n.logger.Error("encode event", zap.String("event_type", e.Type), zap.Error(err))
		metrics.Events.WithLabelValues(e.Type, "failed").Inc()
		return
	}
	// The request context may end right after the response is written.
	if err := n.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		n.logger.Warn("publish event", zap.String("event_type", e.Type), zap.Error(err))
		metrics.Events.WithLabelValues(e.Type, "failed").Inc()
	}
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

type envelope struct {
	EventType string         `json:"eventType"`
	Data      map[string]any `json:"data"`
}

func buildMessage(e Event) (kafkago.Message, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	data := make(map[string]any, len(e.Data)+3)
	maps.Copy(data, e.Data)
	data["tenantId"] = e.TenantID
	data["surveyId"] = e.SurveyID
	data["eventTimestamp"] = ts.Format(time.RFC3339Nano)

	body, err := json.Marshal(envelope{EventType: e.Type, Data: data})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(e.SurveyID),
		Value: body,
		Time:  ts,
		Headers: []kafkago.Header{
			{Key: "eventType", Value: []byte(e.Type)},
			{Key: "tenantId", Value: []byte(e.TenantID)},
		},
	}, nil
}

func headerValue(m kafkago.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
