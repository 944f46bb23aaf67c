// Package rate 提供按分组键限流的令牌桶闸门。
//
// 每次生成调用前申请放行；限额按提供方分组，避免同一 API Key
// 的多个进程在重试风暴中触发上游 429。
package rate

import (
	"context"
	"sync"
	"time"

	"aicommit/pkg/contract"
)

// LimitKey 是限流分组键（提供方 + API Key 摘要）。
type LimitKey string

// Limits 是每分组限额。0 表示该维度不启用。
type Limits struct {
	RPM             int // 每分钟请求数
	TPM             int // 每分钟 token 数
	MaxTokensPerReq int // 单次请求 token 上限，0 不限制
}

// Ask 是一次放行申请。
type Ask struct {
	Key    LimitKey
	Tokens int // 预计 token，>=0
}

// Gate 是并发安全的限流闸门。
type Gate interface {
	// Wait 阻塞到额度可用或 ctx 取消；超出单请求上限时立刻失败。
	Wait(ctx context.Context, a Ask) error
	// Try 非阻塞尝试；额度不足返回 false。
	Try(a Ask) bool
}

// NewGate 从静态限额表构造闸门。clk 为空用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, groups: make(map[LimitKey]*group, len(m))}
	now := clk()
	for k, lim := range m {
		g.groups[k] = newGroup(lim, now)
	}
	return g
}

type gate struct {
	clk    func() time.Time
	mu     sync.Mutex
	groups map[LimitKey]*group
}

type group struct {
	mu  sync.Mutex
	lim Limits
	req bucket
	tok bucket
}

// bucket 是 per-minute 容量的令牌桶。cap==0 表示关闭。
type bucket struct {
	cap   int
	level float64
	last  time.Time
}

func newGroup(lim Limits, now time.Time) *group {
	g := &group{lim: lim}
	if lim.RPM > 0 {
		g.req = bucket{cap: lim.RPM, level: float64(lim.RPM), last: now}
	}
	if lim.TPM > 0 {
		g.tok = bucket{cap: lim.TPM, level: float64(lim.TPM), last: now}
	}
	return g
}

func (b *bucket) refill(now time.Time) {
	if b.cap == 0 || !now.After(b.last) {
		return
	}
	b.level += now.Sub(b.last).Seconds() * float64(b.cap) / 60.0
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

func (b *bucket) canTake(n int) bool {
	return b.cap == 0 || n <= 0 || b.level >= float64(n)
}

func (b *bucket) take(n int) {
	if b.cap == 0 || n <= 0 {
		return
	}
	b.level -= float64(n)
	if b.level < 0 {
		b.level = 0
	}
}

// waitSec 估算可消费 n 前还需的秒数。
func (b *bucket) waitSec(n int) float64 {
	if b.cap == 0 || n <= 0 {
		return 0
	}
	deficit := float64(n) - b.level
	if deficit <= 0 {
		return 0
	}
	return deficit / (float64(b.cap) / 60.0)
}

func (g *gate) group(key LimitKey) *group {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.groups[key]
	if e == nil {
		// 未配置的键视为不限额
		e = newGroup(Limits{}, g.clk())
		g.groups[key] = e
	}
	return e
}

func (g *gate) Try(a Ask) bool {
	if a.Tokens < 0 {
		return false
	}
	e := g.group(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	if e.req.canTake(1) && e.tok.canTake(a.Tokens) {
		e.req.take(1)
		e.tok.take(a.Tokens)
		return true
	}
	return false
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	if a.Tokens < 0 {
		return contract.ErrInvalidInput
	}
	e := g.group(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return contract.ErrInvalidInput
	}
	const minSleep = 10 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := g.clk()
		e.mu.Lock()
		e.req.refill(now)
		e.tok.refill(now)
		if e.req.canTake(1) && e.tok.canTake(a.Tokens) {
			e.req.take(1)
			e.tok.take(a.Tokens)
			e.mu.Unlock()
			return nil
		}
		waitSec := e.req.waitSec(1)
		if w := e.tok.waitSec(a.Tokens); w > waitSec {
			waitSec = w
		}
		e.mu.Unlock()

		d := time.Duration(waitSec*float64(time.Second)) + minSleep
		if err := sleepCtx(ctx, d); err != nil {
			return err
		}
	}
}

// sleepCtx 分片睡眠，及时响应取消。
func sleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := d
		if s > step {
			s = step
		}
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

var _ Gate = (*gate)(nil)
