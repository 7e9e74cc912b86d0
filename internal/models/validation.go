package models

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ValidationError 提交前的字段校验错误，Message 可直接展示给用户
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PrepareReading 校验手动录入的测试读数，timestamp 为空时填入 now
func PrepareReading(r Reading, now time.Time) (Reading, error) {
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	if r.DeviceID == "" {
		return r, invalid("deviceId", "device id is required")
	}
	if strings.TrimSpace(r.Timestamp) == "" {
		r.Timestamp = now.UTC().Format(time.RFC3339)
	} else if _, ok := ParseTimestamp(r.Timestamp); !ok {
		return r, invalid("timestamp", "timestamp %q is not ISO-8601", r.Timestamp)
	}
	if err := validateVitals(&r.HeartRate, &r.Motion, &r.Status); err != nil {
		return r, err
	}
	return r, nil
}

// Validate 校验读数部分更新
func (p ReadingPatch) Validate() error {
	if strings.TrimSpace(p.DeviceID) == "" {
		return invalid("deviceId", "device id is required")
	}
	if _, ok := ParseTimestamp(p.Timestamp); !ok {
		return invalid("timestamp", "timestamp %q is not ISO-8601", p.Timestamp)
	}
	if p.Empty() {
		return invalid("", "nothing to update")
	}
	return validateVitals(p.HeartRate, p.Motion, p.Status)
}

func validateVitals(heartRate *int, motion *float64, status *Status) error {
	if heartRate != nil && (*heartRate <= 0 || *heartRate >= 300) {
		return invalid("heartRate", "heart rate %d out of range (1-299)", *heartRate)
	}
	if motion != nil && *motion < 0 {
		return invalid("motion", "motion must not be negative")
	}
	if status != nil && !status.Valid() {
		return invalid("status", "unknown status %q", *status)
	}
	return nil
}

// Validate 校验被看护人部分更新
func (u ElderlyUpdate) Validate() error {
	if strings.TrimSpace(u.ElderlyID) == "" {
		return invalid("elderlyID", "elderly id is required")
	}
	if u.Empty() {
		return invalid("", "nothing to update")
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return invalid("name", "name must not be blank")
	}
	if u.Age != nil && (*u.Age <= 0 || *u.Age > 150) {
		return invalid("age", "age %d out of range", *u.Age)
	}
	if u.FamilyMemberEmail != nil && *u.FamilyMemberEmail != "" {
		if _, err := mail.ParseAddress(*u.FamilyMemberEmail); err != nil {
			return invalid("familyMemberEmail", "invalid email address")
		}
	}
	return nil
}

// Validate 校验看护人设备分配更新
func (a AssignmentUpdate) Validate() error {
	if strings.TrimSpace(a.CaretakerID) == "" {
		return invalid("caretakerID", "caretaker id is required")
	}
	seen := make(map[string]struct{}, len(a.DeviceIDs))
	for _, id := range a.DeviceIDs {
		if strings.TrimSpace(id) == "" {
			return invalid("assignedElderly", "device id must not be blank")
		}
		if _, dup := seen[id]; dup {
			return invalid("assignedElderly", "device %s listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
