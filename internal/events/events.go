// Package events publishes file lifecycle events to the reporting pipeline.
// Delivery is best-effort: publishing never blocks the caller and failures
// are only logged.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/metrics"
)

// Event types emitted by the ingestion core.
const (
	FileUploaded = "FILE_UPLOADED"
	FileDeleted  = "FILE_DELETED"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string
	TenantID  string
	SurveyID  string
	Data      map[string]any
	Timestamp time.Time
}

// Notifier publishes events.
type Notifier interface {
	Publish(ctx context.Context, e Event)
}

// LogNotifier writes events to the log. It is used when Kafka is disabled.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("events")}
}

func (n *LogNotifier) Publish(_ context.Context, e Event) {
	n.logger.Info("lifecycle event",
		zap.String("event_type", e.Type),
		zap.String("tenant_id", e.TenantID),
		zap.String("survey_id", e.SurveyID),
		zap.Any("data", e.Data))
	metrics.Events.WithLabelValues(e.Type, "logged").Inc()
}
