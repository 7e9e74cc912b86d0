package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// publishJSON 将 data 序列化后写入 Redis Stream，附带类型与时间戳字段
func publishJSON(ctx context.Context, client *redis.Client, stream, kind string, data interface{}) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream payload: %w", err)
	}
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"type":      kind,
			"data":      string(payload),
			"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
		},
	}).Result()
}
