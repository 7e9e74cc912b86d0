package httpapi

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

// ActivityReadingsHeader 读数工作表表头
var ActivityReadingsHeader = []string{
	"Device ID",
	"Timestamp",
	"Heart Rate",
	"Motion",
	"Moving",
	"Status",
}

// ActivityAlertsHeader 告警工作表表头
var ActivityAlertsHeader = []string{
	"Event ID",
	"Device ID",
	"Alert Type",
	"Severity",
	"Heart Rate",
	"Reading Timestamp",
	"Detected At",
	"Status",
	"Acknowledged At",
}

const (
	readingsSheet = "Readings"
	alertsSheet   = "Alerts"
)

// GenerateActivityWorkbook 生成近期活动导出文件：每个设备的窗口读数与最近告警
func GenerateActivityWorkbook(deviceIDs []string, windows map[string][]models.Reading, alerts []models.AlertEvent) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(readingsSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(alertsSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, readingsSheet, ActivityReadingsHeader, headerStyle); err != nil {
		return nil, err
	}
	if err := writeHeader(f, alertsSheet, ActivityAlertsHeader, headerStyle); err != nil {
		return nil, err
	}

	row := 2
	for _, id := range deviceIDs {
		for _, r := range windows[id] {
			moving := "No"
			if r.IsMoving {
				moving = "Yes"
			}
			values := []interface{}{r.DeviceID, r.Timestamp, r.HeartRate, r.Motion, moving, string(r.Status)}
			if err := writeRow(f, readingsSheet, row, values); err != nil {
				return nil, err
			}
			row++
		}
	}

	for i, a := range alerts {
		ackAt := ""
		if a.AcknowledgedAt != nil {
			ackAt = a.AcknowledgedAt.UTC().Format(time.RFC3339)
		}
		values := []interface{}{
			a.EventID,
			a.DeviceID,
			string(a.AlertType),
			string(a.Severity),
			a.HeartRate,
			a.ReadingTimestamp,
			a.DetectedAt.UTC().Format(time.RFC3339),
			a.Status,
			ackAt,
		}
		if err := writeRow(f, alertsSheet, i+2, values); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(sheet, name, name, 20); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}
