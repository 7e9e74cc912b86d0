package evaluator

import (
	"github.com/swn4894/elderly-dashboard/internal/models"
)

// Thresholds 心率阈值
// 显示分类（Low/Normal/High/Critical）与告警触发是两组独立阈值，
// 例如默认 High 告警从 90 开始，而 Critical 分类从 95 开始。
type Thresholds struct {
	LowBelow      int // 分类：< LowBelow 为 Low
	HighFrom      int // 分类：>= HighFrom 为 High
	CriticalFrom  int // 分类：>= CriticalFrom 为 Critical
	AlertLowBelow int // 告警：< AlertLowBelow 触发 LOW
	AlertHighFrom int // 告警：>= AlertHighFrom 触发 HIGH
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowBelow:      50,
		HighFrom:      80,
		CriticalFrom:  95,
		AlertLowBelow: 50,
		AlertHighFrom: 90,
	}
}

// Classify 心率显示分类
func (t Thresholds) Classify(heartRate int) models.HeartRateClass {
	switch {
	case heartRate < t.LowBelow:
		return models.ClassLow
	case heartRate >= t.CriticalFrom:
		return models.ClassCritical
	case heartRate >= t.HighFrom:
		return models.ClassHigh
	default:
		return models.ClassNormal
	}
}

// AlertWorthy 是否需要告警
func (t Thresholds) AlertWorthy(heartRate int) bool {
	_, ok := t.AlertType(heartRate)
	return ok
}

// AlertType 告警类型，非告警心率返回 false
func (t Thresholds) AlertType(heartRate int) (models.AlertType, bool) {
	switch {
	case heartRate < t.AlertLowBelow:
		return models.AlertTypeLow, true
	case heartRate >= t.AlertHighFrom:
		return models.AlertTypeHigh, true
	}
	return "", false
}

// Severity LOW 告警需要打断用户并确认，HIGH 告警仅提示
func Severity(alertType models.AlertType) models.Severity {
	if alertType == models.AlertTypeLow {
		return models.SeverityInterrupt
	}
	return models.SeverityNotify
}
