package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

const alertEventsSchema = `
	CREATE TABLE IF NOT EXISTS heart_rate_alert_events (
		event_id          UUID PRIMARY KEY,
		device_id         TEXT        NOT NULL,
		alert_type        TEXT        NOT NULL,
		class             TEXT        NOT NULL,
		severity          TEXT        NOT NULL,
		heart_rate        INTEGER     NOT NULL,
		reading_timestamp TEXT        NOT NULL,
		detected_at       TIMESTAMPTZ NOT NULL,
		status            TEXT        NOT NULL,
		acknowledged_at   TIMESTAMPTZ,
		metadata          JSONB       NOT NULL DEFAULT '{}'::jsonb,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_hr_alert_events_device_detected
		ON heart_rate_alert_events (device_id, detected_at DESC);
`

// AlertEventsRepository 心率告警日志仓库
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建告警日志仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *AlertEventsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, alertEventsSchema); err != nil {
		return fmt.Errorf("failed to create alert events schema: %w", err)
	}
	return nil
}

// CreateAlertEvent 写入告警事件，event_id 重复时忽略
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID == "" || event.DeviceID == "" {
		return fmt.Errorf("event_id and device_id are required")
	}

	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = b
	}

	query := `
		INSERT INTO heart_rate_alert_events (
			event_id,
			device_id,
			alert_type,
			class,
			severity,
			heart_rate,
			reading_timestamp,
			detected_at,
			status,
			metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.DeviceID,
		string(event.AlertType),
		string(event.Class),
		string(event.Severity),
		event.HeartRate,
		event.ReadingTimestamp,
		event.DetectedAt,
		event.Status,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}
	return nil
}

// Record 实现 evaluator.Sink
func (r *AlertEventsRepository) Record(ctx context.Context, event *models.AlertEvent) error {
	return r.CreateAlertEvent(ctx, event)
}

// Acknowledge 标记告警已确认（实现 evaluator.Acknowledger）
func (r *AlertEventsRepository) Acknowledge(ctx context.Context, eventID string, at time.Time) error {
	query := `
		UPDATE heart_rate_alert_events
		SET status = $2, acknowledged_at = $3
		WHERE event_id = $1
		  AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, eventID, models.AlertStatusAcknowledged, at, models.AlertStatusActive)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert event not found or not active: %s", eventID)
	}
	return nil
}

// ListRecentAlertEvents 查询最近的告警事件（按检测时间倒序），deviceIDs 为空表示全部设备
func (r *AlertEventsRepository) ListRecentAlertEvents(ctx context.Context, deviceIDs []string, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		conditions []string
		args       []interface{}
	)
	if len(deviceIDs) > 0 {
		placeholders := make([]string, len(deviceIDs))
		for i, id := range deviceIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, "device_id IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT
			event_id,
			device_id,
			alert_type,
			class,
			severity,
			heart_rate,
			reading_timestamp,
			detected_at,
			status,
			acknowledged_at,
			metadata
		FROM heart_rate_alert_events
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY detected_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		var (
			event          models.AlertEvent
			alertType      string
			class          string
			severity       string
			acknowledgedAt sql.NullTime
			metadata       []byte
		)
		if err := rows.Scan(
			&event.EventID,
			&event.DeviceID,
			&alertType,
			&class,
			&severity,
			&event.HeartRate,
			&event.ReadingTimestamp,
			&event.DetectedAt,
			&event.Status,
			&acknowledgedAt,
			&metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		event.AlertType = models.AlertType(alertType)
		event.Class = models.HeartRateClass(class)
		event.Severity = models.Severity(severity)
		if acknowledgedAt.Valid {
			t := acknowledgedAt.Time
			event.AcknowledgedAt = &t
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				r.logger.Warn("Failed to unmarshal alert metadata",
					zap.String("event_id", event.EventID),
					zap.Error(err),
				)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return events, nil
}
