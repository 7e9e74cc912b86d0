package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

// Publisher 消息发布接口（*Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// AlertPublisher 将告警事件发布到 MQTT
//
// 新告警发布到 <prefix>/<deviceId>，确认发布到 <prefix>/ack。
type AlertPublisher struct {
	publisher   Publisher
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewAlertPublisher 创建告警发布器
func NewAlertPublisher(publisher Publisher, topicPrefix string, qos byte, logger *zap.Logger) *AlertPublisher {
	return &AlertPublisher{
		publisher:   publisher,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		qos:         qos,
		logger:      logger,
	}
}

// AlertTopic 设备告警主题
func (p *AlertPublisher) AlertTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s", p.topicPrefix, deviceID)
}

// AckTopic 告警确认主题
func (p *AlertPublisher) AckTopic() string {
	return p.topicPrefix + "/ack"
}

// Record 实现 evaluator.Sink
func (p *AlertPublisher) Record(ctx context.Context, event *models.AlertEvent) error {
	if event == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	topic := p.AlertTopic(event.DeviceID)
	if err := p.publisher.Publish(topic, p.qos, false, payload); err != nil {
		return err
	}
	p.logger.Debug("Published alert event",
		zap.String("topic", topic),
		zap.String("event_id", event.EventID),
	)
	return nil
}

type ackMessage struct {
	EventID        string    `json:"event_id"`
	Status         string    `json:"status"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

// Acknowledge 实现 evaluator.Acknowledger
func (p *AlertPublisher) Acknowledge(ctx context.Context, eventID string, at time.Time) error {
	payload, err := json.Marshal(ackMessage{
		EventID:        eventID,
		Status:         models.AlertStatusAcknowledged,
		AcknowledgedAt: at,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal acknowledge message: %w", err)
	}
	return p.publisher.Publish(p.AckTopic(), p.qos, false, payload)
}
