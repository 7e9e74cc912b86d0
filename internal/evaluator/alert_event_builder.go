package evaluator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

// AlertEventBuilder 告警事件构建器
type AlertEventBuilder struct {
	deviceID   string
	thresholds Thresholds
}

// NewAlertEventBuilder 创建告警事件构建器
func NewAlertEventBuilder(deviceID string, thresholds Thresholds) *AlertEventBuilder {
	return &AlertEventBuilder{
		deviceID:   deviceID,
		thresholds: thresholds,
	}
}

// BuildAlertEvent 根据读数构建告警事件
func (b *AlertEventBuilder) BuildAlertEvent(r models.Reading, alertType models.AlertType, detectedAt time.Time) *models.AlertEvent {
	severity := Severity(alertType)
	status := models.AlertStatusActive
	if severity == models.SeverityNotify {
		status = models.AlertStatusNotified
	}

	return &models.AlertEvent{
		EventID:          uuid.New().String(),
		DeviceID:         b.deviceID,
		AlertType:        alertType,
		Class:            b.thresholds.Classify(r.HeartRate),
		Severity:         severity,
		HeartRate:        r.HeartRate,
		ReadingTimestamp: r.Timestamp,
		DetectedAt:       detectedAt,
		Status:           status,
		Metadata:         b.buildMetadata(r, alertType),
	}
}

func (b *AlertEventBuilder) buildMetadata(r models.Reading, alertType models.AlertType) map[string]string {
	metadata := map[string]string{
		"normal_range": fmt.Sprintf("%d-%d", b.thresholds.AlertLowBelow, b.thresholds.AlertHighFrom-1),
		"is_moving":    fmt.Sprintf("%t", r.IsMoving),
		"motion":       fmt.Sprintf("%.1f", r.Motion),
	}
	if alertType == models.AlertTypeLow {
		metadata["threshold"] = fmt.Sprintf("<%d", b.thresholds.AlertLowBelow)
	} else {
		metadata["threshold"] = fmt.Sprintf(">=%d", b.thresholds.AlertHighFrom)
	}
	if r.Status != "" {
		metadata["reading_status"] = string(r.Status)
	}
	return metadata
}

// BuildAlertState 由需要确认的告警事件生成当前告警状态
func BuildAlertState(event *models.AlertEvent) *models.AlertState {
	return &models.AlertState{
		AlertID:          event.EventID,
		DeviceID:         event.DeviceID,
		HeartRate:        event.HeartRate,
		Class:            event.Class,
		ReadingTimestamp: event.ReadingTimestamp,
		DetectedAt:       event.DetectedAt,
	}
}
