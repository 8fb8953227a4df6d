package notification

import (
	"context"

	"go.uber.org/zap"

	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
)

// LogNotifier writes notifications to the structured log. Stands in for a
// real delivery channel (email, chat webhook) in environments without one.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

// Send logs the notification.
func (n *LogNotifier) Send(_ context.Context, recipients []string, subject, body string) error {
	n.logger.Info("notification sent",
		zap.Strings("recipients", recipients),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}

var _ workflowsvc.Notifier = (*LogNotifier)(nil)
