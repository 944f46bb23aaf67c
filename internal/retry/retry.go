// Package retry 执行带分类重试与限流闸门的生成调用。
//
// 路由之外重试只发生在这里：可重试失败按封顶指数退避重试，
// 终止级失败立刻返回，尝试耗尽后升级为终止级。
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"aicommit/internal/rate"
	"aicommit/pkg/contract"
)

// Policy 是一次生成的重试策略。
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Gate     rate.Gate
	GateKey  rate.LimitKey
	Estimate func(contract.Prompt) int

	// 测试钩子；为空用真实时钟。
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 8 * time.Second
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// ClassifyFailure 判定失败级别。
// 可重试：限流、请求超时、上游 5xx/408；其余一律终止级。
func ClassifyFailure(err error) contract.FailureClass {
	if err == nil {
		return contract.Terminal
	}
	if errors.Is(err, contract.ErrAuth) || errors.Is(err, contract.ErrQuota) {
		return contract.Terminal
	}
	if errors.Is(err, contract.ErrRateLimited) {
		return contract.Retryable
	}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		st := ue.UpstreamStatus()
		if st >= 500 || st == 408 {
			return contract.Retryable
		}
		return contract.Terminal
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return contract.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contract.Retryable
	}
	return contract.Terminal
}

// backoff 返回第 attempt 次失败后的等待时长（attempt 从 1 起）。
func (p Policy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff << (attempt - 1)
	if d > p.MaxBackoff || d <= 0 {
		d = p.MaxBackoff
	}
	return d
}

// Invoke 执行非流式生成。返回生成文本与实际尝试次数。
// 所有失败包装为 *contract.GenerationError。
func Invoke(ctx context.Context, llm contract.LLMClient, p contract.Prompt, pol Policy) (string, int, error) {
	pol = pol.normalized()
	tokens := 0
	if pol.Estimate != nil {
		tokens = pol.Estimate(p)
	}
	var last error
	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", attempt - 1, &contract.GenerationError{Class: contract.Terminal, Attempts: attempt - 1, Err: err}
		}
		if pol.Gate != nil {
			if err := pol.Gate.Wait(ctx, rate.Ask{Key: pol.GateKey, Tokens: tokens}); err != nil {
				return "", attempt - 1, &contract.GenerationError{Class: contract.Terminal, Attempts: attempt - 1, Err: err}
			}
		}
		raw, err := llm.Invoke(ctx, p)
		if err == nil {
			return raw.Text, attempt, nil
		}
		last = err
		if ClassifyFailure(err) == contract.Terminal {
			return "", attempt, &contract.GenerationError{Class: contract.Terminal, Attempts: attempt, Err: err}
		}
		if attempt == pol.MaxAttempts {
			break
		}
		if err := pol.Sleep(ctx, pol.backoff(attempt)); err != nil {
			return "", attempt, &contract.GenerationError{Class: contract.Terminal, Attempts: attempt, Err: err}
		}
	}
	// 尝试耗尽：可重试失败升级为终止级
	return "", pol.MaxAttempts, &contract.GenerationError{
		Class:    contract.Terminal,
		Attempts: pol.MaxAttempts,
		Err:      fmt.Errorf("attempts exhausted: %w", last),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
