package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter 在固定时间窗口内限制调用次数
type RateLimiter struct {
	mu            sync.RWMutex
	requestsCount int64
	lastReset     time.Time
	window        time.Duration
	maxRequests   int64
}

// NewRateLimiter 创建新的速率限制器
func NewRateLimiter(maxRequests int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		lastReset:   time.Now(),
	}
}

// Check 检查是否超过限额，未超过时计入一次调用
func (rl *RateLimiter) Check() bool {
	if rl.maxRequests <= 0 {
		return true // 未配置上限
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// 窗口到期后重置计数
	if now.Sub(rl.lastReset) >= rl.window {
		rl.requestsCount = 0
		rl.lastReset = now
	}

	if rl.requestsCount < rl.maxRequests {
		rl.requestsCount++
		return true
	}

	return false
}

// GetStatus 获取当前限流状态
func (rl *RateLimiter) GetStatus() Status {
	now := time.Now()

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	remaining := rl.maxRequests - rl.requestsCount
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Limit:     rl.maxRequests,
		Used:      rl.requestsCount,
		Remaining: remaining,
		ResetIn:   rl.window - now.Sub(rl.lastReset),
	}
}

// Status 速率限制状态
type Status struct {
	Limit     int64
	Used      int64
	Remaining int64
	ResetIn   time.Duration
}

// RateLimitError 限流错误
type RateLimitError struct {
	Status Status
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("API调用超过限额: 已使用 %d/%d，%v 后重置",
		e.Status.Used, e.Status.Limit, e.Status.ResetIn.Round(time.Second))
}

// WithLimiter 在限额内执行fn，超限时返回RateLimitError
func (rl *RateLimiter) WithLimiter(ctx context.Context, fn func() error) error {
	if rl.Check() {
		return fn()
	}

	return &RateLimitError{Status: rl.GetStatus()}
}

// RetryWithBackoff 带线性退避的重试辅助函数
func RetryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if i < maxRetries-1 {
			delay := time.Duration(i+1) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("已达到最大重试次数: %w", lastErr)
}
