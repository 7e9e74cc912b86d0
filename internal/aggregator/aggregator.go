package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

var (
	// ErrRepeatedToken 远端返回了已经用过的续页令牌
	ErrRepeatedToken = errors.New("aggregator: repeated continuation token")
	// ErrTooManyPages 超过单设备最大拉取页数
	ErrTooManyPages = errors.New("aggregator: too many pages")
)

// PageFetcher 分页查询读数
type PageFetcher interface {
	ListPage(ctx context.Context, deviceID string, limit int, nextToken *string) (*models.ReadingPage, error)
}

// Aggregator 分页拉取设备历史读数，排序后截取最近 windowSize 条
type Aggregator struct {
	fetcher    PageFetcher
	pageSize   int
	maxPages   int
	windowSize int
	logger     *zap.Logger
}

// NewAggregator 创建聚合器
func NewAggregator(fetcher PageFetcher, pageSize, maxPages, windowSize int, logger *zap.Logger) *Aggregator {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPages <= 0 {
		maxPages = 200
	}
	if windowSize <= 0 {
		windowSize = 5
	}
	return &Aggregator{
		fetcher:    fetcher,
		pageSize:   pageSize,
		maxPages:   maxPages,
		windowSize: windowSize,
		logger:     logger,
	}
}

// DrainAll 跟随续页令牌拉取到最后一页，返回全部读数（按到达顺序）
// 任意一页失败即整体失败，不返回部分结果
func (a *Aggregator) DrainAll(ctx context.Context, deviceID string) ([]models.Reading, error) {
	var (
		all   []models.Reading
		token *string
		used  = make(map[string]struct{})
	)
	for page := 0; ; page++ {
		if page >= a.maxPages {
			return nil, fmt.Errorf("drain %s: %w (%d)", deviceID, ErrTooManyPages, a.maxPages)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := a.fetcher.ListPage(ctx, deviceID, a.pageSize, token)
		if err != nil {
			return nil, fmt.Errorf("drain %s page %d: %w", deviceID, page, err)
		}
		if result != nil {
			all = append(all, result.Items...)
		}

		if result == nil || result.NextToken == nil || *result.NextToken == "" {
			break
		}
		if _, seen := used[*result.NextToken]; seen {
			return nil, fmt.Errorf("drain %s page %d: %w", deviceID, page, ErrRepeatedToken)
		}
		used[*result.NextToken] = struct{}{}
		token = result.NextToken
	}

	a.logger.Debug("Drained device history",
		zap.String("device_id", deviceID),
		zap.Int("count", len(all)),
	)
	return all, nil
}

// Recent 拉取设备最近 windowSize 条读数（时间降序）
// 失败时返回空集与错误，由调用方决定回退策略
func (a *Aggregator) Recent(ctx context.Context, deviceID string) ([]models.Reading, error) {
	all, err := a.DrainAll(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return Truncate(SortDescending(Dedup(deviceID, all)), a.windowSize), nil
}

// Dedup 去掉其他设备的读数以及自然键重复的读数，保留首次出现的一条
func Dedup(deviceID string, readings []models.Reading) []models.Reading {
	seen := make(map[models.ReadingKey]struct{}, len(readings))
	out := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if r.DeviceID != deviceID {
			continue
		}
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// WindowSize 截取条数
func (a *Aggregator) WindowSize() int {
	return a.windowSize
}

// SortDescending 按时间戳降序稳定排序（原地排序并返回）
// 时间戳相同的读数保持到达顺序
func SortDescending(readings []models.Reading) []models.Reading {
	sort.SliceStable(readings, func(i, j int) bool {
		return models.CompareTimestamps(readings[i].Timestamp, readings[j].Timestamp) > 0
	})
	return readings
}

// Truncate 截取前 k 条
func Truncate(readings []models.Reading, k int) []models.Reading {
	if k >= 0 && len(readings) > k {
		return readings[:k]
	}
	return readings
}
