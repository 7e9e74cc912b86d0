package models

import (
	"time"
)

// HeartRateClass 心率显示分类
type HeartRateClass string

const (
	ClassLow      HeartRateClass = "low"
	ClassNormal   HeartRateClass = "normal"
	ClassHigh     HeartRateClass = "high"
	ClassCritical HeartRateClass = "critical"
)

// AlertType 告警类型（与告警通知函数一致）
type AlertType string

const (
	AlertTypeLow  AlertType = "LOW"
	AlertTypeHigh AlertType = "HIGH"
)

// Severity 告警呈现方式：interrupt 需要用户确认，notify 仅提示
type Severity string

const (
	SeverityInterrupt Severity = "interrupt"
	SeverityNotify    Severity = "notify"
)

// 告警事件状态
const (
	AlertStatusActive       = "active"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusNotified     = "notified"
)

// AlertState 当前需要确认的告警（仅在客户端内存中）
type AlertState struct {
	AlertID          string         `json:"alertId"`
	DeviceID         string         `json:"deviceId"`
	HeartRate        int            `json:"heartRate"`
	Class            HeartRateClass `json:"class"`
	ReadingTimestamp string         `json:"readingTimestamp"`
	DetectedAt       time.Time      `json:"detectedAt"`
	Acknowledged     bool           `json:"acknowledged"`
	AcknowledgedAt   *time.Time     `json:"acknowledgedAt,omitempty"`
}

// AlertEvent 告警事件记录（写入告警日志、事件流与消息总线）
type AlertEvent struct {
	EventID          string            `json:"event_id" db:"event_id"`
	DeviceID         string            `json:"device_id" db:"device_id"`
	AlertType        AlertType         `json:"alert_type" db:"alert_type"`
	Class            HeartRateClass    `json:"class" db:"class"`
	Severity         Severity          `json:"severity" db:"severity"`
	HeartRate        int               `json:"heart_rate" db:"heart_rate"`
	ReadingTimestamp string            `json:"reading_timestamp" db:"reading_timestamp"`
	DetectedAt       time.Time         `json:"detected_at" db:"detected_at"`
	Status           string            `json:"status" db:"status"` // active, notified, acknowledged
	AcknowledgedAt   *time.Time        `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	Metadata         map[string]string `json:"metadata,omitempty" db:"metadata"` // JSONB
}
