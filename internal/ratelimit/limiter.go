package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// counter 抽象出限流用到的 Redis 命令，便于测试替身。
type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Limiter 把任务准入限制在每秒 N 次：本地令牌桶平滑突发，
// Redis 秒级计数窗口保证多个 worker 进程合计不超额。
type Limiter struct {
	local  *rate.Limiter
	redis  counter
	limit  int64
	prefix string
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New 构造准入限流器。redisClient 可为 nil（仅本地限流，测试用）。
func New(perSecond float64, redisClient counter) *Limiter {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		local:  rate.NewLimiter(rate.Limit(perSecond), burst),
		redis:  redisClient,
		limit:  int64(perSecond),
		prefix: "render:admission",
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait 阻塞直到本次准入既通过本地令牌桶、又在集群秒窗口配额内。
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.local.Wait(ctx); err != nil {
		return err
	}
	if l.redis == nil || l.limit <= 0 {
		return nil
	}

	for {
		now := l.now()
		key := fmt.Sprintf("%s:%d", l.prefix, now.Unix())
		count, err := l.redis.Incr(ctx, key).Result()
		if err != nil {
			// Redis 不可用时退化为仅本地限流，不阻塞渲染。
			return nil
		}
		if count == 1 {
			_ = l.redis.Expire(ctx, key, 2*time.Second).Err()
		}
		if count <= l.limit {
			return nil
		}

		// 本秒配额已被其他进程用完，等到下一个窗口再试。
		wait := time.Second - time.Duration(now.Nanosecond())
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Middleware 在任务进入 handler 前执行准入等待。
func (l *Limiter) Middleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			if err := l.Wait(ctx); err != nil {
				return err
			}
			return next.ProcessTask(ctx, task)
		})
	}
}
