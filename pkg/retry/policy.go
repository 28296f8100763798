// Package retry 提供协作方调用边界上的超时与指数退避重试策略
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
)

// Backoff 指数退避配置
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay 计算第 attempt 次失败后的等待时间（attempt 从 0 开始）
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	if d <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if b.Max > 0 && d > b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Policy 重试策略
//
// Timeout 作用于单次尝试；MaxAttempts 包含首次调用。
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	Timeout     time.Duration

	// Retryable 判断错误是否可重试，为 nil 时使用 IsRetryable
	Retryable func(error) bool
	// Sleep 可替换的等待函数，测试中用于跳过真实等待
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy 默认策略：3 次尝试，4s 起步、上限 10s 的指数退避，单次 30s 超时
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: Backoff{
			Initial:    4 * time.Second,
			Max:        10 * time.Second,
			Multiplier: 2,
		},
		Timeout: 30 * time.Second,
	}
}

// Do 执行 fn，失败时按策略重试
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do 执行带返回值的 fn，失败时按策略重试
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		v, err := callOnce(ctx, p.Timeout, fn)
		if err == nil {
			if attempt > 0 {
				metrics.RetryAttempts.WithLabelValues(op, "ok").Inc()
			}
			return v, nil
		}
		lastErr = err

		// 上游已取消，不再重试
		if ctx.Err() != nil {
			return zero, err
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff.Delay(attempt)
		metrics.RetryAttempts.WithLabelValues(op, "retry").Inc()
		logger.Warn(ctx, "collaborator call failed, retrying",
			"operation", op,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}

	metrics.RetryAttempts.WithLabelValues(op, "exhausted").Inc()
	return zero, fmt.Errorf("%s: %d attempts exhausted: %w", op, attempts, lastErr)
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// 单次尝试超时统一视为可重试
		return v, MarkRetryable(fmt.Errorf("attempt timed out after %s: %w", timeout, err))
	}
	return v, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// MarkRetryable 标记错误为可重试（如 429、5xx）
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable 默认的可重试判定：显式标记、超时、网络错误
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
