// Package render 将生成文本装配为最终提交信息并做校验。
//
// 校验只产生 Finding，除换行归一化外从不改写内容；是否因
// Finding 失败由 strict 开关决定。
package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"aicommit/internal/gitx"
	"aicommit/pkg/contract"
)

// FallbackLiteral 是流水线最终兜底的字面消息。
const FallbackLiteral = "chore: update staged changes"

// 内置模板名。
const (
	TemplateConventional = "conventional"
	TemplateMinimal      = "minimal"
)

var builtins = map[string]string{
	TemplateConventional: "{{.Subject}}{{if .Body}}\n\n{{.Body}}{{end}}\n",
	TemplateMinimal:      "{{.Subject}}\n",
}

var conventionalHeader = regexp.MustCompile(`^[a-z]+(\([^)]+\))?!?: .+`)

// Options 控制渲染与校验。
type Options struct {
	Template        string // 内置名或 TemplateDir 下的文件名；空取 conventional
	TemplateDir     string
	MaxSubjectLen   int // 默认 72
	WrapBodyAt      int // 默认 100；0 不换行
	ForbiddenTokens []string
	Strict          bool
}

// Renderer 持有已解析的模板。
type Renderer struct {
	opt      Options
	tpl      *template.Template
	fellBack bool // 模板解析失败退回内置
}

// New 解析模板。解析失败时非严格模式退回内置 conventional 并在
// 每次渲染结果中附加 Finding；严格模式返回 *contract.RenderError。
func New(opt Options) (*Renderer, error) {
	if opt.Template == "" {
		opt.Template = TemplateConventional
	}
	if opt.MaxSubjectLen <= 0 {
		opt.MaxSubjectLen = 72
	}
	if opt.WrapBodyAt < 0 {
		opt.WrapBodyAt = 0
	} else if opt.WrapBodyAt == 0 {
		opt.WrapBodyAt = 100
	}
	text, err := resolve(opt)
	if err != nil {
		if opt.Strict {
			return nil, &contract.RenderError{Resolution: true, Template: opt.Template, Err: err}
		}
		return buildRenderer(opt, builtins[TemplateConventional], true)
	}
	return buildRenderer(opt, text, false)
}

func buildRenderer(opt Options, text string, fellBack bool) (*Renderer, error) {
	tpl, err := template.New(opt.Template).Parse(text)
	if err != nil {
		if fellBack || opt.Strict {
			return nil, &contract.RenderError{Resolution: true, Template: opt.Template, Err: err}
		}
		return buildRenderer(opt, builtins[TemplateConventional], true)
	}
	return &Renderer{opt: opt, tpl: tpl, fellBack: fellBack}, nil
}

// resolve 按名字查找模板：内置名优先，其后 TemplateDir 下的文件。
func resolve(opt Options) (string, error) {
	if text, ok := builtins[opt.Template]; ok {
		return text, nil
	}
	if opt.TemplateDir != "" {
		b, err := os.ReadFile(filepath.Join(opt.TemplateDir, opt.Template))
		if err == nil {
			return string(b), nil
		}
	}
	return "", fmt.Errorf("render: %w: %q", contract.ErrTemplateNotFound, opt.Template)
}

type messageData struct {
	Subject string
	Body    string
	Branch  string
}

// Render 装配生成文本。
// 主题行取舍：生成文本首行符合约定式头则整行作主题、余下作正文；
// 否则主题从 diff 推导，生成全文降为正文。
func (r *Renderer) Render(generated string, c contract.Context) (contract.RenderedMessage, error) {
	var findings []contract.Finding
	if r.fellBack {
		findings = append(findings, contract.Finding{
			Code: "template_fallback", Detail: fmt.Sprintf("template %q not found, using builtin", r.opt.Template),
		})
	}
	if strings.Contains(generated, "\r") {
		findings = append(findings, contract.Finding{Code: "malformed_breaks", Detail: "carriage returns in generated text"})
	}
	norm := normalize(generated)
	subject, body := splitMessage(norm, c)

	if len(subject) > r.opt.MaxSubjectLen {
		findings = append(findings, contract.Finding{
			Code: "subject_too_long", Detail: fmt.Sprintf("subject is %d chars, limit %d", len(subject), r.opt.MaxSubjectLen),
		})
	}
	for _, tok := range r.opt.ForbiddenTokens {
		if tok == "" {
			continue
		}
		if strings.Contains(subject, tok) || strings.Contains(body, tok) {
			findings = append(findings, contract.Finding{Code: "forbidden_token", Detail: tok})
		}
	}

	if r.opt.WrapBodyAt > 0 {
		body = wrap(body, r.opt.WrapBodyAt)
	}
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, messageData{Subject: subject, Body: body, Branch: c.Meta.Branch}); err != nil {
		return contract.RenderedMessage{}, &contract.RenderError{Template: r.opt.Template, Err: err}
	}
	text := strings.TrimRight(normalize(buf.String()), "\n") + "\n"

	msg := contract.RenderedMessage{Text: text, Findings: findings}
	if r.opt.Strict && len(findings) > 0 {
		return msg, &contract.RenderError{
			Validation: true,
			Template:   r.opt.Template,
			Err:        fmt.Errorf("strict validation failed: %s", findings[0].Code),
		}
	}
	return msg, nil
}

// RenderMinimal 只依赖上下文产出极简消息（生成不可用时的降级路径）。
func (r *Renderer) RenderMinimal(c contract.Context) contract.RenderedMessage {
	subject := deriveSubject(c)
	return contract.RenderedMessage{Text: subject + "\n"}
}

// normalize 统一换行并压缩连续空行。
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}

// splitMessage 按主题行取舍规则切分。
func splitMessage(norm string, c contract.Context) (subject, body string) {
	first, rest, _ := strings.Cut(norm, "\n")
	first = strings.TrimSpace(first)
	if conventionalHeader.MatchString(first) {
		return first, strings.TrimSpace(rest)
	}
	return deriveSubject(c), norm
}

// deriveSubject 从 diff 推导主题：新增行中有约定式头则整行复用，
// 否则按触及文件构造。
func deriveSubject(c contract.Context) string {
	diff := c.Diff()
	for _, ln := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(ln, "+") || strings.HasPrefix(ln, "+++") {
			continue
		}
		cand := strings.TrimSpace(strings.TrimPrefix(ln, "+"))
		if conventionalHeader.MatchString(cand) {
			return cand
		}
	}
	paths := gitx.TouchedPaths(diff)
	switch len(paths) {
	case 0:
		return FallbackLiteral
	case 1:
		return "chore: update " + paths[0]
	default:
		return fmt.Sprintf("chore: update %d files", len(paths))
	}
}

// wrap 对正文按词换行；已有换行与过长单词保持原样。
func wrap(body string, width int) string {
	if body == "" {
		return ""
	}
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if len(line) <= width {
			out = append(out, line)
			continue
		}
		var cur string
		for _, w := range strings.Fields(line) {
			if cur == "" {
				cur = w
				continue
			}
			if len(cur)+1+len(w) > width {
				out = append(out, cur)
				cur = w
				continue
			}
			cur += " " + w
		}
		if cur != "" {
			out = append(out, cur)
		}
	}
	return strings.Join(out, "\n")
}
