package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aicommit/internal/aggregate"
	"aicommit/internal/fingerprint"
	"aicommit/internal/render"
	"aicommit/internal/retry"
	"aicommit/pkg/contract"
)

const testDiff = "diff --git a/auth/login.go b/auth/login.go\n--- a/auth/login.go\n+++ b/auth/login.go\n@@ -1 +1,2 @@\n+guard\n"

type textSource struct{ text string }

func (s *textSource) Collect(ctx context.Context) (contract.Fragment, error) {
	return contract.Fragment{Payload: contract.Payload{Text: s.text}}, nil
}

type failSource struct{}

func (s *failSource) Collect(ctx context.Context) (contract.Fragment, error) {
	return contract.Fragment{}, contract.ErrNoDiff
}

type countingLLM struct {
	text  string
	err   error
	calls int
}

func (l *countingLLM) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	l.calls++
	if l.err != nil {
		return contract.Raw{}, l.err
	}
	return contract.Raw{Text: l.text}, nil
}

// memCache 是测试用内存缓存；failLookup 时所有查询返回 CacheError。
type memCache struct {
	entries    map[contract.Fingerprint]contract.CacheEntry
	failLookup bool
}

func newMemCache() *memCache {
	return &memCache{entries: map[contract.Fingerprint]contract.CacheEntry{}}
}

func (m *memCache) Lookup(ctx context.Context, fp contract.Fingerprint) (*contract.CacheEntry, error) {
	if m.failLookup {
		return nil, &contract.CacheError{Op: "lookup", Err: context.DeadlineExceeded}
	}
	if e, ok := m.entries[fp]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *memCache) Insert(ctx context.Context, e contract.CacheEntry) error {
	fp := contract.Fingerprint(e.Fingerprint)
	if _, ok := m.entries[fp]; !ok {
		m.entries[fp] = e
	}
	return nil
}

func (m *memCache) InvalidateBranch(ctx context.Context, current string) error { return nil }

func (m *memCache) InvalidatePaths(ctx context.Context, touched []string, keep contract.Fingerprint) error {
	set := map[string]struct{}{}
	for _, p := range touched {
		set[p] = struct{}{}
	}
	for fp, e := range m.entries {
		if fp == keep {
			continue
		}
		for _, p := range e.Paths {
			if _, hit := set[p]; hit {
				delete(m.entries, fp)
				break
			}
		}
	}
	return nil
}

func (m *memCache) Close() error { return nil }

func newTestPipeline(t *testing.T, llm contract.LLMClient, c contract.Cache, slots []aggregate.SourceSlot) *Pipeline {
	t.Helper()
	r, err := render.New(render.Options{})
	if err != nil {
		t.Fatalf("渲染器构造失败: %v", err)
	}
	meta := contract.RunMeta{Branch: "main"}
	return New(
		Components{Sources: slots, LLM: llm, Renderer: r, Cache: c},
		Settings{
			Scope: fingerprint.ScopeDiffOnly,
			Retry: retry.Policy{MaxAttempts: 2, Sleep: func(ctx context.Context, d time.Duration) error { return nil }},
			Meta:  &meta,
		},
	)
}

func diffSlots() []aggregate.SourceSlot {
	return []aggregate.SourceSlot{
		{Name: contract.SourceDiff, Required: true, Impl: &textSource{text: testDiff}},
	}
}

type chunkStream struct {
	chunks []string
	n      int
}

func (s *chunkStream) Next() (string, bool, error) {
	if s.n >= len(s.chunks) {
		return "", true, nil
	}
	s.n++
	return s.chunks[s.n-1], false, nil
}

func (s *chunkStream) Close() error { return nil }

type streamingLLM struct{ chunks []string }

func (l *streamingLLM) InvokeStream(ctx context.Context, p contract.Prompt) (contract.RawStream, error) {
	return &chunkStream{chunks: l.chunks}, nil
}

// UT-PIP-01: 完整路径产出渲染消息并写缓存。
func TestRunFullPath(t *testing.T) {
	llm := &countingLLM{text: "feat(auth): add nil guard\n\nPrevents a panic on login."}
	c := newMemCache()
	p := newTestPipeline(t, llm, c, diffSlots())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if out.Level != 1 || out.CacheHit {
		t.Fatalf("期望阶梯 1: %+v", out)
	}
	if !strings.HasPrefix(out.Message.Text, "feat(auth): add nil guard\n") {
		t.Fatalf("消息不符: %q", out.Message.Text)
	}
	if len(c.entries) != 1 {
		t.Fatalf("应写入缓存")
	}
}

// UT-PIP-02: 第二次运行命中缓存，逐字一致且不再调用生成。
func TestRunCacheHit(t *testing.T) {
	llm := &countingLLM{text: "feat: x"}
	c := newMemCache()
	p := newTestPipeline(t, llm, c, diffSlots())
	first, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("首轮失败: %v", err)
	}
	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("次轮失败: %v", err)
	}
	if !second.CacheHit || second.Level != 2 {
		t.Fatalf("期望缓存命中: %+v", second)
	}
	if second.Message.Text != first.Message.Text {
		t.Fatalf("命中消息应逐字一致")
	}
	if llm.calls != 1 {
		t.Fatalf("命中不应再生成: calls=%d", llm.calls)
	}
}

// UT-PIP-03: 生成终止失败降级到阶梯 3，消息来自上下文且带警告。
func TestRunDegradeMinimal(t *testing.T) {
	llm := &countingLLM{err: contract.ErrAuth}
	p := newTestPipeline(t, llm, nil, diffSlots())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("降级不应报错: %v", err)
	}
	if out.Level != 3 {
		t.Fatalf("期望阶梯 3: %+v", out)
	}
	if !strings.Contains(out.Message.Text, "auth/login.go") {
		t.Fatalf("极简消息应引用触及文件: %q", out.Message.Text)
	}
	if len(out.Warnings) == 0 {
		t.Fatalf("应携带降级警告")
	}
}

// UT-PIP-04: 无可用上下文时落到字面兜底，消息永不为空。
func TestRunLiteralFallback(t *testing.T) {
	llm := &countingLLM{err: contract.ErrAuth}
	slots := []aggregate.SourceSlot{
		{Name: "static", Impl: &textSource{text: ""}},
	}
	p := newTestPipeline(t, llm, nil, slots)
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("兜底不应报错: %v", err)
	}
	if out.Level != 4 {
		t.Fatalf("期望阶梯 4: %+v", out)
	}
	if strings.TrimSpace(out.Message.Text) != render.FallbackLiteral {
		t.Fatalf("兜底消息不符: %q", out.Message.Text)
	}
}

// UT-PIP-05: 必选来源失败是致命的。
func TestRunRequiredSourceFatal(t *testing.T) {
	slots := []aggregate.SourceSlot{
		{Name: contract.SourceDiff, Required: true, Impl: &failSource{}},
	}
	p := newTestPipeline(t, &countingLLM{text: "x"}, nil, slots)
	_, err := p.Run(context.Background())
	if err == nil {
		t.Fatalf("必选来源失败应致命")
	}
}

// UT-PIP-06: 缓存故障折叠为强制未命中，生成照常进行。
func TestRunCacheErrorForcedMiss(t *testing.T) {
	llm := &countingLLM{text: "feat: y"}
	c := newMemCache()
	c.failLookup = true
	p := newTestPipeline(t, llm, c, diffSlots())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("缓存故障不应致命: %v", err)
	}
	if out.CacheHit || out.Level != 1 {
		t.Fatalf("应强制未命中并生成: %+v", out)
	}
	if llm.calls != 1 {
		t.Fatalf("应照常生成")
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "cache degraded") {
			found = true
		}
	}
	if !found {
		t.Fatalf("应记录缓存降级警告: %v", out.Warnings)
	}
}

// UT-PIP-07: 流式运行即时转发分片、旁路缓存。
func TestRunStream(t *testing.T) {
	c := newMemCache()
	p := newTestPipeline(t, &countingLLM{text: "unused"}, c, diffSlots())
	p.c.Streamer = &streamingLLM{chunks: []string{"feat: s", "treamed"}}
	var got []string
	out, err := p.RunStream(context.Background(), func(chunk string) { got = append(got, chunk) })
	if err != nil {
		t.Fatalf("流式运行失败: %v", err)
	}
	if len(got) != 2 || out.Message.Text != "feat: streamed" {
		t.Fatalf("分片转发不符: %v %q", got, out.Message.Text)
	}
	if out.Attempts != 1 {
		t.Fatalf("应记录生成尝试次数: %d", out.Attempts)
	}
	if len(c.entries) != 0 {
		t.Fatalf("流式不应写缓存")
	}
	bypass := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "bypasses") {
			bypass = true
		}
	}
	if !bypass {
		t.Fatalf("应提示缓存旁路: %v", out.Warnings)
	}
}

// UT-PIP-08: 开启路径失效时，同一 staged diff 的第二次运行仍命中缓存，
// 仅驱逐触及相同路径的其他指纹条目。
func TestRunPathTouchKeepsIdenticalDiff(t *testing.T) {
	llm := &countingLLM{text: "feat: z"}
	c := newMemCache()
	c.entries["stale"] = contract.CacheEntry{
		Fingerprint: "stale", Text: "old", Paths: []string{"auth/login.go"},
	}
	p := newTestPipeline(t, llm, c, diffSlots())
	p.s.InvalidateOnPathTouch = true
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("首轮失败: %v", err)
	}
	if _, ok := c.entries["stale"]; ok {
		t.Fatalf("同路径其他指纹条目应被驱逐")
	}
	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("次轮失败: %v", err)
	}
	if !second.CacheHit || second.Level != 2 {
		t.Fatalf("同一 diff 不应被自身驱逐: %+v", second)
	}
	if llm.calls != 1 {
		t.Fatalf("命中不应再生成: calls=%d", llm.calls)
	}
}

// UT-PIP-09: 严格模式下模板执行失败不致命，落到字面兜底。
func TestRunStrictExecFailureFallsBack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.tmpl"), []byte("{{.Nope}}\n"), 0o644); err != nil {
		t.Fatalf("写模板失败: %v", err)
	}
	r, err := render.New(render.Options{Template: "bad.tmpl", TemplateDir: dir, Strict: true})
	if err != nil {
		t.Fatalf("渲染器构造失败: %v", err)
	}
	meta := contract.RunMeta{Branch: "main"}
	p := New(
		Components{Sources: diffSlots(), LLM: &countingLLM{text: "feat: x"}, Renderer: r},
		Settings{
			Scope: fingerprint.ScopeDiffOnly,
			Retry: retry.Policy{MaxAttempts: 2, Sleep: func(ctx context.Context, d time.Duration) error { return nil }},
			Meta:  &meta,
		},
	)
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("执行期渲染失败应降级而非致命: %v", err)
	}
	if out.Level != 4 || strings.TrimSpace(out.Message.Text) != render.FallbackLiteral {
		t.Fatalf("期望字面兜底: %+v", out)
	}
	if len(out.Warnings) == 0 {
		t.Fatalf("应携带渲染降级警告")
	}
}

// UT-PIP-10: 严格模式下校验 Finding 仍是致命的。
func TestRunStrictValidationFatal(t *testing.T) {
	r, err := render.New(render.Options{Strict: true, ForbiddenTokens: []string{"secret"}})
	if err != nil {
		t.Fatalf("渲染器构造失败: %v", err)
	}
	meta := contract.RunMeta{Branch: "main"}
	p := New(
		Components{Sources: diffSlots(), LLM: &countingLLM{text: "feat: add secret handling"}, Renderer: r},
		Settings{
			Scope: fingerprint.ScopeDiffOnly,
			Retry: retry.Policy{MaxAttempts: 2, Sleep: func(ctx context.Context, d time.Duration) error { return nil }},
			Meta:  &meta,
		},
	)
	_, err = p.Run(context.Background())
	var re *contract.RenderError
	if !errors.As(err, &re) || !re.Validation {
		t.Fatalf("严格校验失败应致命: %v", err)
	}
}
