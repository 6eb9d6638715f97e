package repository

import (
	"context"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	pkgkafka "SnipeFlow/pkg/kafka"
)

// KafkaNotifier publishes pattern events and emergency alerts to their
// Kafka topics. Pattern events are keyed by the first match's symbol so
// per-symbol ordering holds.
type KafkaNotifier struct {
	producer     *pkgkafka.Producer
	patternTopic string
	alertTopic   string
}

// NewKafkaNotifier creates a notifier over an existing producer.
func NewKafkaNotifier(producer *pkgkafka.Producer, patternTopic, alertTopic string) *KafkaNotifier {
	return &KafkaNotifier{
		producer:     producer,
		patternTopic: patternTopic,
		alertTopic:   alertTopic,
	}
}

// NotifyPattern publishes one pattern event.
func (n *KafkaNotifier) NotifyPattern(ctx context.Context, ev *models.PatternEvent) error {
	var key []byte
	if len(ev.Matches) > 0 {
		key = []byte(ev.Matches[0].Symbol)
	}
	return n.producer.Publish(ctx, n.patternTopic, key, ev)
}

// NotifyEmergency publishes one alert.
func (n *KafkaNotifier) NotifyEmergency(ctx context.Context, alert *models.Alert) error {
	return n.producer.Publish(ctx, n.alertTopic, []byte(alert.Kind), alert)
}

// Close shuts the underlying producer down.
func (n *KafkaNotifier) Close() error {
	if n.producer != nil {
		return n.producer.Close()
	}
	return nil
}

var _ domrepo.Notifier = (*KafkaNotifier)(nil)
