package retry

import (
	"context"

	"aicommit/internal/rate"
	"aicommit/pkg/contract"
)

// TruncationMarker 是流中途失败时追加的最后一个分片。
const TruncationMarker = "[output truncated]"

// OpenStream 打开有重试保护的流。
// 约束：重试覆盖打开与首个分片之前的失败（同一尝试预算）；
// 首个分片送出后不再重试，中途失败追加截断标记分片后以
// 错误终止。
func OpenStream(ctx context.Context, llm contract.LLMStreamer, p contract.Prompt, pol Policy) (contract.RawStream, error) {
	g := &guardedStream{ctx: ctx, llm: llm, p: p, pol: pol.normalized()}
	if err := g.open(); err != nil {
		return nil, err
	}
	return g, nil
}

type guardedStream struct {
	ctx context.Context
	llm contract.LLMStreamer
	p   contract.Prompt
	pol Policy

	inner    contract.RawStream
	attempts int
	started  bool
	stashed  error
	closed   bool
}

// Attempts 返回打开（含首分片前重开）消耗的尝试次数。
func (g *guardedStream) Attempts() int { return g.attempts }

// open 在剩余尝试预算内打开底层流。每次尝试前过限流闸门。
func (g *guardedStream) open() error {
	tokens := 0
	if g.pol.Estimate != nil {
		tokens = g.pol.Estimate(g.p)
	}
	var last error
	for g.attempts < g.pol.MaxAttempts {
		g.attempts++
		if err := g.ctx.Err(); err != nil {
			return &contract.GenerationError{Class: contract.Terminal, Attempts: g.attempts - 1, Err: err}
		}
		if g.pol.Gate != nil {
			if err := g.pol.Gate.Wait(g.ctx, rate.Ask{Key: g.pol.GateKey, Tokens: tokens}); err != nil {
				return &contract.GenerationError{Class: contract.Terminal, Attempts: g.attempts - 1, Err: err}
			}
		}
		s, err := g.llm.InvokeStream(g.ctx, g.p)
		if err == nil {
			g.inner = s
			return nil
		}
		last = err
		if ClassifyFailure(err) == contract.Terminal || g.attempts == g.pol.MaxAttempts {
			return &contract.GenerationError{Class: contract.Terminal, Attempts: g.attempts, Err: err}
		}
		if err := g.pol.Sleep(g.ctx, g.pol.backoff(g.attempts)); err != nil {
			return &contract.GenerationError{Class: contract.Terminal, Attempts: g.attempts, Err: err}
		}
	}
	return &contract.GenerationError{Class: contract.Terminal, Attempts: g.attempts, Err: last}
}

func (g *guardedStream) Next() (string, bool, error) {
	if g.stashed != nil {
		err := g.stashed
		g.stashed = nil
		g.closed = true
		return "", true, err
	}
	if g.closed {
		return "", true, nil
	}
	for {
		chunk, done, err := g.inner.Next()
		if err != nil {
			// 首分片前的可重试失败：退避后重开，沿用同一预算
			if !g.started && ClassifyFailure(err) == contract.Retryable && g.attempts < g.pol.MaxAttempts {
				_ = g.inner.Close()
				if serr := g.pol.Sleep(g.ctx, g.pol.backoff(g.attempts)); serr != nil {
					g.closed = true
					return "", true, &contract.GenerationError{Class: contract.Terminal, Attempts: g.attempts, Err: serr}
				}
				if oerr := g.open(); oerr != nil {
					g.closed = true
					return "", true, oerr
				}
				continue
			}
			wrapped := &contract.GenerationError{
				Class:    contract.Terminal,
				Attempts: g.attempts,
				Err:      err,
			}
			if !g.started {
				g.closed = true
				return "", true, wrapped
			}
			// 中途失败：先送出截断标记，下次调用返回错误
			g.stashed = wrapped
			return TruncationMarker, false, nil
		}
		if done {
			g.closed = true
			return chunk, true, nil
		}
		if chunk != "" {
			g.started = true
		}
		return chunk, false, nil
	}
}

func (g *guardedStream) Close() error {
	g.closed = true
	return g.inner.Close()
}
