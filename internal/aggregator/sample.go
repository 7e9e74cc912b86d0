package aggregator

import (
	"math"
	"math/rand"
	"time"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

var sampleStatuses = []models.Status{models.StatusNormal, models.StatusWarning, models.StatusCritical}

// SampleReadings 生成演示用示例读数：n 条，间隔 1 小时，最新一条为 now
// 心率 60-99，活动量 0-10（保留一位小数）
func SampleReadings(deviceID string, now time.Time, n int, rnd *rand.Rand) []models.Reading {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(now.UnixNano()))
	}
	out := make([]models.Reading, 0, n)
	for i := 0; i < n; i++ {
		ts := now.Add(-time.Duration(i) * time.Hour).UTC()
		out = append(out, models.Reading{
			DeviceID:  deviceID,
			Timestamp: ts.Format(time.RFC3339),
			HeartRate: 60 + rnd.Intn(40),
			Motion:    math.Round(rnd.Float64()*100) / 10,
			IsMoving:  rnd.Float64() > 0.5,
			Status:    sampleStatuses[rnd.Intn(len(sampleStatuses))],
		})
	}
	return out
}
