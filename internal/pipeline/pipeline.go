// Package pipeline 编排一次提交信息生成：聚合、指纹、缓存、生成、渲染。
//
// 失败走降级阶梯而不是直接报错：
//
//	1 完整路径：生成 + 渲染
//	2 缓存命中：逐字返回既有消息
//	3 生成不可用：仅上下文的极简消息
//	4 渲染不可用或无上下文：字面兜底
//
// 只有必选来源失败与严格校验失败是致命的。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aicommit/internal/aggregate"
	"aicommit/internal/diag"
	"aicommit/internal/fingerprint"
	"aicommit/internal/gitx"
	"aicommit/internal/prompt"
	"aicommit/internal/render"
	"aicommit/internal/retry"
	"aicommit/pkg/contract"
)

// Components 是流水线的可注入部件。
type Components struct {
	Sources  []aggregate.SourceSlot
	LLM      contract.LLMClient
	Streamer contract.LLMStreamer // 可为空；Run 不使用
	Renderer *render.Renderer
	Cache    contract.Cache // 为空禁用缓存
	Log      *diag.Logger
}

// Settings 是一次运行的参数。
type Settings struct {
	Scope      fingerprint.Scope
	Language   string
	RunTimeout time.Duration
	GenTimeout time.Duration
	Retry      retry.Policy

	InvalidateOnBranchSwitch bool
	InvalidateOnPathTouch    bool

	// Meta 非空时跳过 git 元信息采集（测试注入）。
	Meta *contract.RunMeta
}

// Outcome 是一次运行的结果与过程事实。
type Outcome struct {
	Message     contract.RenderedMessage
	Level       int // 1..4
	CacheHit    bool
	Attempts    int
	Fingerprint contract.Fingerprint
	Warnings    []string
}

type Pipeline struct {
	c Components
	s Settings
}

func New(c Components, s Settings) *Pipeline {
	return &Pipeline{c: c, s: s}
}

// Run 执行非流式生成。
func (p *Pipeline) Run(ctx context.Context) (Outcome, error) {
	if p.s.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.s.RunTimeout)
		defer cancel()
	}
	t0 := time.Now()
	if t := diag.GetTerminal(); t != nil {
		t.RunStart(len(p.c.Sources), "")
	}

	c, out, err := p.collect(ctx)
	if err != nil {
		p.finish(false, 0, t0)
		return out, err
	}

	fp, warn := p.fingerprintAndCache(ctx, c, &out)
	if out.CacheHit {
		p.finish(true, out.Level, t0)
		return out, nil
	}
	if warn != "" {
		out.Warnings = append(out.Warnings, warn)
	}
	out.Fingerprint = fp

	text, attempts, genErr := p.generate(ctx, c)
	out.Attempts = attempts
	if genErr == nil {
		msg, rerr := p.c.Renderer.Render(text, c)
		if rerr != nil {
			p.logError("render", rerr)
			var re *contract.RenderError
			if errors.As(rerr, &re) && re.Validation {
				// 严格校验失败：致命
				p.finish(false, 1, t0)
				return out, rerr
			}
			// 执行期渲染失败：直落字面兜底
			out.Warnings = append(out.Warnings, rerr.Error())
			return p.fallback(out, t0), nil
		}
		out.Message = msg
		out.Level = 1
		p.insert(ctx, fp, msg.Text, c, &out)
		p.finish(true, 1, t0)
		return out, nil
	}

	// 生成失败：严格校验之外一律降级
	p.logError("generate", genErr)
	out.Warnings = append(out.Warnings, fmt.Sprintf("generation unavailable: %v", genErr))
	return p.degrade(c, out, t0), nil
}

// RunStream 执行流式生成。分片经 onChunk 即时转发，缓存整体旁路。
func (p *Pipeline) RunStream(ctx context.Context, onChunk func(string)) (Outcome, error) {
	if p.s.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.s.RunTimeout)
		defer cancel()
	}
	t0 := time.Now()
	if t := diag.GetTerminal(); t != nil {
		t.RunStart(len(p.c.Sources), "")
	}

	c, out, err := p.collect(ctx)
	if err != nil {
		p.finish(false, 0, t0)
		return out, err
	}
	if p.c.Streamer == nil {
		p.finish(false, 0, t0)
		return out, fmt.Errorf("pipeline: %w: client does not support streaming", contract.ErrInvalidInput)
	}
	out.Warnings = append(out.Warnings, "streaming bypasses the result cache")

	gctx := ctx
	if p.s.GenTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, p.s.GenTimeout)
		defer cancel()
	}
	pr := prompt.Build(c, p.s.Language)
	s, err := retry.OpenStream(gctx, p.c.Streamer, pr, p.s.Retry)
	if err != nil {
		var ge *contract.GenerationError
		if errors.As(err, &ge) {
			out.Attempts = ge.Attempts
		}
		p.logError("generate", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("generation unavailable: %v", err))
		return p.degrade(c, out, t0), nil
	}
	defer s.Close()

	var b strings.Builder
	var streamErr error
	for {
		chunk, done, err := s.Next()
		if chunk != "" {
			b.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
		}
		if err != nil {
			streamErr = err
			break
		}
		if done {
			break
		}
	}
	if a, ok := s.(interface{ Attempts() int }); ok {
		out.Attempts = a.Attempts()
	}
	if streamErr != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("stream truncated: %v", streamErr))
	}
	if strings.TrimSpace(b.String()) == "" {
		return p.degrade(c, out, t0), nil
	}
	out.Message = contract.RenderedMessage{Text: b.String()}
	out.Level = 1
	p.finish(true, 1, t0)
	return out, nil
}

// collect 采集元信息并聚合上下文。
func (p *Pipeline) collect(ctx context.Context) (contract.Context, Outcome, error) {
	var out Outcome
	meta := p.meta(ctx)
	c, err := aggregate.Run(ctx, p.c.Sources, meta, p.c.Log)
	if err != nil {
		p.logError("aggregate", err)
		return contract.Context{}, out, err
	}
	return c, out, nil
}

func (p *Pipeline) meta(ctx context.Context) contract.RunMeta {
	if p.s.Meta != nil {
		return *p.s.Meta
	}
	meta := contract.RunMeta{Timestamp: time.Now().UTC()}
	if br, err := gitx.Branch(ctx); err == nil {
		meta.Branch = br
	}
	if root, err := gitx.Root(ctx); err == nil {
		meta.RepoRoot = root
	}
	meta.Author = gitx.Author(ctx)
	return meta
}

// fingerprintAndCache 计算指纹、执行失效并查缓存。
// 缓存任何失败都折叠为强制未命中（返回 warning 文本）。
func (p *Pipeline) fingerprintAndCache(ctx context.Context, c contract.Context, out *Outcome) (contract.Fingerprint, string) {
	fp, err := fingerprint.New(c, p.s.Scope)
	if err != nil {
		return "", fmt.Sprintf("fingerprint unavailable: %v", err)
	}
	out.Fingerprint = fp
	if p.c.Cache == nil {
		return fp, ""
	}
	// 显式失效先于 TTL 与查询
	if p.s.InvalidateOnBranchSwitch && c.Meta.Branch != "" {
		if err := p.c.Cache.InvalidateBranch(ctx, c.Meta.Branch); err != nil {
			p.logError("cache", err)
			return fp, fmt.Sprintf("cache degraded: %v", err)
		}
	}
	if p.s.InvalidateOnPathTouch {
		// 当前指纹豁免：同一 staged diff 的条目不得被自身驱逐
		if err := p.c.Cache.InvalidatePaths(ctx, gitx.TouchedPaths(c.Diff()), fp); err != nil {
			p.logError("cache", err)
			return fp, fmt.Sprintf("cache degraded: %v", err)
		}
	}
	entry, err := p.c.Cache.Lookup(ctx, fp)
	if err != nil {
		p.logError("cache", err)
		return fp, fmt.Sprintf("cache degraded: %v", err)
	}
	if entry != nil {
		out.Message = contract.RenderedMessage{Text: entry.Text}
		out.Level = 2
		out.CacheHit = true
	}
	return fp, ""
}

func (p *Pipeline) generate(ctx context.Context, c contract.Context) (string, int, error) {
	gctx := ctx
	if p.s.GenTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, p.s.GenTimeout)
		defer cancel()
	}
	if t := diag.GetTerminal(); t != nil {
		t.Generating(1)
	}
	var tm *diag.Timer
	if p.c.Log != nil {
		tm = p.c.Log.Start("generate", "invoke")
	}
	pr := prompt.Build(c, p.s.Language)
	g0 := time.Now()
	text, attempts, err := retry.Invoke(gctx, p.c.LLM, pr, p.s.Retry)
	diag.ObserveDuration("generate", "invoke", time.Since(g0).Milliseconds())
	if err == nil {
		tm.Finish("generated", int64(len(text)))
		diag.IncOp("generate", "finish", "success")
	}
	return text, attempts, err
}

// insert 缓存写入尽力而为，失败仅记 warning。
func (p *Pipeline) insert(ctx context.Context, fp contract.Fingerprint, text string, c contract.Context, out *Outcome) {
	if p.c.Cache == nil || fp == "" {
		return
	}
	entry := contract.CacheEntry{
		Fingerprint: fp,
		Text:        text,
		Branch:      c.Meta.Branch,
		Paths:       gitx.TouchedPaths(c.Diff()),
	}
	if err := p.c.Cache.Insert(ctx, entry); err != nil {
		p.logError("cache", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("cache insert failed: %v", err))
	}
}

// degrade 落到阶梯 3：仅上下文的极简消息；无可用上下文时再落 4。
func (p *Pipeline) degrade(c contract.Context, out Outcome, t0 time.Time) Outcome {
	if p.c.Renderer != nil {
		msg := p.c.Renderer.RenderMinimal(c)
		if strings.TrimSpace(msg.Text) != "" && strings.TrimSpace(msg.Text) != render.FallbackLiteral {
			out.Message = msg
			out.Level = 3
			p.warnLevel(3)
			p.finish(true, 3, t0)
			return out
		}
	}
	return p.fallback(out, t0)
}

// fallback 落到阶梯 4：字面兜底。消息永不为空。
func (p *Pipeline) fallback(out Outcome, t0 time.Time) Outcome {
	out.Message = contract.RenderedMessage{Text: render.FallbackLiteral + "\n"}
	out.Level = 4
	p.warnLevel(4)
	p.finish(true, 4, t0)
	return out
}

func (p *Pipeline) warnLevel(level int) {
	if p.c.Log != nil {
		p.c.Log.Warn("pipeline", string(diag.CodeBudget), fmt.Sprintf("degraded to level %d", level), "")
	}
}

func (p *Pipeline) logError(comp string, err error) {
	code := diag.Classify(err)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if p.c.Log == nil {
		return
	}
	p.c.Log.ErrorWith(comp, string(code), err.Error(), "")
}

func (p *Pipeline) finish(ok bool, level int, t0 time.Time) {
	diag.ObserveDuration("pipeline", "run", time.Since(t0).Milliseconds())
	if ok {
		diag.IncOp("pipeline", "finish", "success")
	}
	if t := diag.GetTerminal(); t != nil {
		t.RunFinish(ok, level, time.Since(t0))
	}
}
