package repository

import (
	"context"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/pkg/logger"
)

// LogNotifier writes alerts to the structured log. Used when Kafka is
// disabled so the notification path stays exercised.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// NotifyPattern logs one pattern event.
func (n *LogNotifier) NotifyPattern(_ context.Context, ev *models.PatternEvent) error {
	n.log.Info("pattern event",
		logger.String("pattern", string(ev.PatternType)),
		logger.Int("matches", len(ev.Matches)))
	return nil
}

// NotifyEmergency logs one alert.
func (n *LogNotifier) NotifyEmergency(_ context.Context, alert *models.Alert) error {
	n.log.Warn("emergency alert",
		logger.String("severity", alert.Severity),
		logger.String("session", alert.SessionID),
		logger.String("message", alert.Message))
	return nil
}

// Close is a no-op.
func (n *LogNotifier) Close() error { return nil }

var _ domrepo.Notifier = (*LogNotifier)(nil)
