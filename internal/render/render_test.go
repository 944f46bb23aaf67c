package render

import (
	"errors"
	"strings"
	"testing"

	"aicommit/pkg/contract"
)

func ctxWithDiff(diff string) contract.Context {
	return contract.Context{Fragments: []contract.Fragment{
		{Source: contract.SourceDiff, OK: true, Payload: contract.Payload{Text: diff}},
	}}
}

func mustNew(t *testing.T, opt Options) *Renderer {
	t.Helper()
	r, err := New(opt)
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	return r
}

// UT-REN-01: 约定式首行整行作主题，其余作正文。
func TestConventionalHeaderWins(t *testing.T) {
	r := mustNew(t, Options{})
	msg, err := r.Render("fix(auth): handle nil user\n\nGuards the login path.", ctxWithDiff(""))
	if err != nil {
		t.Fatalf("渲染失败: %v", err)
	}
	lines := strings.Split(msg.Text, "\n")
	if lines[0] != "fix(auth): handle nil user" {
		t.Fatalf("主题不符: %q", lines[0])
	}
	if !strings.Contains(msg.Text, "Guards the login path.") {
		t.Fatalf("正文丢失: %q", msg.Text)
	}
	if strings.Contains(msg.Text, "Closes") {
		t.Fatalf("不应出现未请求的脚注")
	}
}

// UT-REN-02: 非约定式生成文本降为正文，主题从 diff 新增行复用。
func TestSubjectDerivedFromDiff(t *testing.T) {
	diff := "diff --git a/auth/login.go b/auth/login.go\n--- a/auth/login.go\n+++ b/auth/login.go\n@@ -1 +1,2 @@\n+fix(auth): null check\n"
	r := mustNew(t, Options{})
	msg, err := r.Render("Adds a nil guard before dereferencing the user.", ctxWithDiff(diff))
	if err != nil {
		t.Fatalf("渲染失败: %v", err)
	}
	lines := strings.Split(msg.Text, "\n")
	if lines[0] != "fix(auth): null check" {
		t.Fatalf("主题应复用 diff 中的约定式行: %q", lines[0])
	}
	if !strings.Contains(msg.Text, "Adds a nil guard") {
		t.Fatalf("生成文本应降为正文")
	}
}

// UT-REN-03: 推导主题按触及文件构造。
func TestSubjectFromPaths(t *testing.T) {
	diff := "diff --git a/p/q.go b/p/q.go\n+plain line\n"
	r := mustNew(t, Options{})
	msg, _ := r.Render("Plain sentence.", ctxWithDiff(diff))
	if !strings.HasPrefix(msg.Text, "chore: update p/q.go\n") {
		t.Fatalf("主题不符: %q", msg.Text)
	}
}

// UT-REN-04: 校验产生 Finding 但不改写内容；严格模式报错。
func TestFindings(t *testing.T) {
	long := "feat: " + strings.Repeat("x", 80)
	r := mustNew(t, Options{ForbiddenTokens: []string{"SECRET"}})
	msg, err := r.Render(long+"\n\nmentions SECRET token\r\n", ctxWithDiff(""))
	if err != nil {
		t.Fatalf("非严格模式不应失败: %v", err)
	}
	codes := map[string]bool{}
	for _, f := range msg.Findings {
		codes[f.Code] = true
	}
	for _, want := range []string{"subject_too_long", "forbidden_token", "malformed_breaks"} {
		if !codes[want] {
			t.Fatalf("缺 Finding %s: %+v", want, msg.Findings)
		}
	}
	if !strings.Contains(msg.Text, "SECRET") {
		t.Fatalf("校验不应改写内容")
	}

	strict := mustNew(t, Options{ForbiddenTokens: []string{"SECRET"}, Strict: true})
	_, err = strict.Render(long+"\n\nmentions SECRET", ctxWithDiff(""))
	var re *contract.RenderError
	if !errors.As(err, &re) || !re.Validation {
		t.Fatalf("严格模式应返回校验级 RenderError: %v", err)
	}
}

// UT-REN-05: 模板解析失败非严格退回内置并附 Finding；严格直接失败。
func TestTemplateFallback(t *testing.T) {
	r := mustNew(t, Options{Template: "missing.tmpl"})
	msg, err := r.Render("feat: a", ctxWithDiff(""))
	if err != nil {
		t.Fatalf("退回内置后渲染应成功: %v", err)
	}
	found := false
	for _, f := range msg.Findings {
		if f.Code == "template_fallback" {
			found = true
		}
	}
	if !found {
		t.Fatalf("应记录模板退回: %+v", msg.Findings)
	}

	_, err = New(Options{Template: "missing.tmpl", Strict: true})
	var re *contract.RenderError
	if !errors.As(err, &re) || !re.Resolution {
		t.Fatalf("严格模式解析失败应报 Resolution 错误: %v", err)
	}
	if !errors.Is(err, contract.ErrTemplateNotFound) {
		t.Fatalf("应可解包到 ErrTemplateNotFound")
	}
}

// UT-REN-06: 正文按宽度换行，已有换行保持。
func TestBodyWrap(t *testing.T) {
	r := mustNew(t, Options{WrapBodyAt: 20})
	body := "one two three four five six seven eight"
	msg, _ := r.Render("feat: a\n\n"+body, ctxWithDiff(""))
	for i, ln := range strings.Split(strings.TrimSpace(msg.Text), "\n") {
		if len(ln) > 20 && i > 0 {
			t.Fatalf("第 %d 行超宽: %q", i, ln)
		}
	}
}

// UT-REN-07: 极简渲染只依赖上下文，永不为空。
func TestRenderMinimal(t *testing.T) {
	r := mustNew(t, Options{})
	msg := r.RenderMinimal(ctxWithDiff("diff --git a/a.go b/a.go\n+x\n"))
	if strings.TrimSpace(msg.Text) == "" {
		t.Fatalf("极简消息不应为空")
	}
	empty := r.RenderMinimal(contract.Context{})
	if strings.TrimSpace(empty.Text) != FallbackLiteral {
		t.Fatalf("无上下文时应为字面兜底: %q", empty.Text)
	}
}
