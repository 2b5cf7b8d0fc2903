package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	metricserrors "tokenmetrics/internal/errors"
)

func fastConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BackoffFactor:   2.0,
		EnableJitter:    false,
	}
}

func TestExecute_SuccessFirstTry(t *testing.T) {
	retrier := NewRetrier(fastConfig(), logrus.New())

	calls := 0
	err := retrier.Execute(context.Background(), "test", func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetryableErrorRecovers(t *testing.T) {
	retrier := NewRetrier(fastConfig(), logrus.New())

	calls := 0
	err := retrier.Execute(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("rate limit reached")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	retrier := NewRetrier(fastConfig(), logrus.New())

	calls := 0
	fatal := metricserrors.NewMetricsError(metricserrors.ErrorTypeInvalidAPIKey, metricserrors.SeverityCritical, "INVALID_API_KEY", "API密钥无效")
	err := retrier.Execute(context.Background(), "test", func() error {
		calls++
		return fatal
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	retrier := NewRetrier(fastConfig(), logrus.New())

	calls := 0
	err := retrier.Execute(context.Background(), "test", func() error {
		calls++
		return errors.New("connection reset")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_ContextCancel(t *testing.T) {
	retrier := NewRetrier(fastConfig(), logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retrier.Execute(ctx, "test", func() error {
		return errors.New("timeout")
	})

	assert.Equal(t, context.Canceled, err)
}

func TestIsRetryableError(t *testing.T) {
	// 接口优先于短语匹配
	assert.True(t, IsRetryableError(metricserrors.ErrRateLimitExceeded))
	assert.False(t, IsRetryableError(metricserrors.ErrInvalidContract))

	// 普通错误靠短语匹配
	assert.True(t, IsRetryableError(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsRetryableError(errors.New("invalid json payload")))
	assert.False(t, IsRetryableError(nil))
}

func TestCalculateDelay_Bounded(t *testing.T) {
	retrier := NewRetrier(&RetryConfig{
		MaxAttempts:     10,
		InitialInterval: time.Second,
		MaxInterval:     4 * time.Second,
		BackoffFactor:   2.0,
		EnableJitter:    false,
	}, logrus.New())

	assert.Equal(t, time.Second, retrier.calculateDelay(1))
	assert.Equal(t, 2*time.Second, retrier.calculateDelay(2))
	// 超过上限后被钳制
	assert.Equal(t, 4*time.Second, retrier.calculateDelay(5))
}
