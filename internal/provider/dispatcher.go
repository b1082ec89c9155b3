package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/pkg/dispatch"
)

// WebhookDispatcher adapts the webhook pusher to the Dispatcher interface.
type WebhookDispatcher struct {
	pusher dispatch.Pusher
}

// NewWebhookDispatcher wraps a pusher.
func NewWebhookDispatcher(p dispatch.Pusher) *WebhookDispatcher {
	return &WebhookDispatcher{pusher: p}
}

func (d *WebhookDispatcher) Push(ctx context.Context, decision *model.Decision, state *model.OperationalState, correlationID string) error {
	n := dispatch.Notification{
		CorrelationID:  correlationID,
		Action:         string(decision.Action),
		Target:         decision.Target,
		ReasoningTrace: decision.ReasoningTrace,
	}
	if state.Extraction != nil {
		n.IncidentType = string(state.Extraction.IncidentType)
		n.Urgency = string(state.Extraction.Urgency)
		n.Location = state.Extraction.Location
	}
	if state.ConfidenceScore != nil {
		n.Confidence = *state.ConfidenceScore
	}
	return d.pusher.Push(ctx, n)
}

// LogDispatcher is the no-webhook variant: decisions are logged and delivery
// always succeeds. Used when no downstream endpoint is configured.
type LogDispatcher struct{}

func (LogDispatcher) Push(ctx context.Context, decision *model.Decision, state *model.OperationalState, correlationID string) error {
	fields := []zap.Field{
		zap.String("correlation_id", correlationID),
		zap.String("action", string(decision.Action)),
		zap.String("target", decision.Target),
	}
	if state.ConfidenceScore != nil {
		fields = append(fields, zap.Float64("confidence", *state.ConfidenceScore))
	}
	zap.L().Info("dispatch decision", fields...)
	return nil
}
