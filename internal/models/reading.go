package models

import (
	"strings"
	"time"
)

// Status 读数状态标签
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusAlert    Status = "alert"
	StatusLow      Status = "low"
)

// Valid 空值表示未携带状态，同样合法
func (s Status) Valid() bool {
	switch s {
	case "", StatusNormal, StatusWarning, StatusCritical, StatusAlert, StatusLow:
		return true
	}
	return false
}

// Reading 一条来自手表设备的生命体征读数（对应 WatchData）
// 自然键为 (deviceId, timestamp)
type Reading struct {
	DeviceID  string  `json:"deviceId"`
	Timestamp string  `json:"timestamp"` // ISO-8601
	HeartRate int     `json:"heartRate"`
	Motion    float64 `json:"motion"`
	IsMoving  bool    `json:"isMoving"`
	Status    Status  `json:"status,omitempty"`
}

// ReadingKey 读数自然键
type ReadingKey struct {
	DeviceID  string
	Timestamp string
}

// Key 返回归一化后的自然键（同一时刻的不同写法视为同一读数）
func (r Reading) Key() ReadingKey {
	return ReadingKey{DeviceID: r.DeviceID, Timestamp: NormalizeTimestamp(r.Timestamp)}
}

// Time 解析读数时间，无法解析时返回零值
func (r Reading) Time() time.Time {
	t, _ := ParseTimestamp(r.Timestamp)
	return t
}

// ReadingPage 分页查询的一页结果
type ReadingPage struct {
	Items     []Reading `json:"items"`
	NextToken *string   `json:"nextToken"`
}

// ParseTimestamp 解析 ISO-8601 时间戳
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	// 兼容不带时区的写法，按 UTC 处理
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// NormalizeTimestamp 可解析时转为 UTC RFC3339Nano，否则原样返回
func NormalizeTimestamp(s string) string {
	if t, ok := ParseTimestamp(s); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return s
}

// CompareTimestamps 比较两个时间戳：a 早于 b 返回 -1，相同时刻返回 0，晚于返回 1
// 可解析的按时刻比较；无法解析的一律视为早于任何可解析的时间戳，彼此之间按字典序比较
func CompareTimestamps(a, b string) int {
	ta, okA := ParseTimestamp(a)
	tb, okB := ParseTimestamp(b)
	switch {
	case okA && okB:
		return ta.Compare(tb)
	case okA:
		return 1
	case okB:
		return -1
	}
	return strings.Compare(a, b)
}

// ReadingPatch 读数的部分更新，nil 字段保持不变
type ReadingPatch struct {
	DeviceID  string   `json:"deviceId"`
	Timestamp string   `json:"timestamp"`
	HeartRate *int     `json:"heartRate,omitempty"`
	Motion    *float64 `json:"motion,omitempty"`
	IsMoving  *bool    `json:"isMoving,omitempty"`
	Status    *Status  `json:"status,omitempty"`
}

// Key 被更新读数的自然键
func (p ReadingPatch) Key() ReadingKey {
	return ReadingKey{DeviceID: p.DeviceID, Timestamp: NormalizeTimestamp(p.Timestamp)}
}

// Empty 没有任何待更新字段
func (p ReadingPatch) Empty() bool {
	return p.HeartRate == nil && p.Motion == nil && p.IsMoving == nil && p.Status == nil
}

// ApplyTo 将已提供的字段写入读数，返回新值
func (p ReadingPatch) ApplyTo(r Reading) Reading {
	if p.HeartRate != nil {
		r.HeartRate = *p.HeartRate
	}
	if p.Motion != nil {
		r.Motion = *p.Motion
	}
	if p.IsMoving != nil {
		r.IsMoving = *p.IsMoving
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	return r
}

// ToInput 生成 UpdateWatchDataInput，只包含已提供字段
func (p ReadingPatch) ToInput() map[string]interface{} {
	input := map[string]interface{}{
		"deviceId":  p.DeviceID,
		"timestamp": p.Timestamp,
	}
	if p.HeartRate != nil {
		input["heartRate"] = *p.HeartRate
	}
	if p.Motion != nil {
		input["motion"] = *p.Motion
	}
	if p.IsMoving != nil {
		input["isMoving"] = *p.IsMoving
	}
	if p.Status != nil {
		input["status"] = string(*p.Status)
	}
	return input
}
