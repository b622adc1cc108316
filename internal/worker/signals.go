package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cardforge/internal/tasks"
)

// 取消标记保留一天，足够覆盖重试窗口。
const cancelFlagTTL = 24 * time.Hour

// JobSignals 是取消标记与状态通知的 Redis 实现。
type JobSignals struct {
	Redis *redis.Client
}

// Cancelled 查询任务是否已被外部请求取消。
func (s *JobSignals) Cancelled(ctx context.Context, jobID string) (bool, error) {
	n, err := s.Redis.Exists(ctx, tasks.CancelKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel flag for %q: %w", jobID, err)
	}
	return n > 0, nil
}

// RequestCancel 打上取消标记。worker 在下一个阶段边界观测到后放弃任务。
func (s *JobSignals) RequestCancel(ctx context.Context, jobID string) error {
	if err := s.Redis.Set(ctx, tasks.CancelKey(jobID), 1, cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("set cancel flag for %q: %w", jobID, err)
	}
	return nil
}

// PublishRenderNotify 把任务状态消息发布到该任务的通知频道。
func (s *JobSignals) PublishRenderNotify(ctx context.Context, jobID string, msg RenderNotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	channel := tasks.NotifyChannel(jobID)
	if err := s.Redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish notify to %q: %w", channel, err)
	}
	return nil
}
