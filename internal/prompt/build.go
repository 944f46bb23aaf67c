// Package prompt 将聚合后的上下文装配为生成提示词。
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"aicommit/internal/gitx"
	"aicommit/pkg/contract"
)

// readme 片段注入提示词的最大长度。
const readmeLimit = 500

// Build 装配提示词。
// 约束：仅读取 OK 片段；缺席片段静默跳过；diff 按文件切块注入。
func Build(c contract.Context, language string) contract.Prompt {
	var b strings.Builder
	b.WriteString("Write a commit message for the staged changes below.\n")
	b.WriteString("Follow the Conventional Commits format: <type>(<scope>): <subject>.\n")
	b.WriteString("Keep the subject under 72 characters and explain the motivation in the body.\n")
	if language != "" && !strings.EqualFold(language, "en") {
		fmt.Fprintf(&b, "Write the message in %s.\n", language)
	}
	b.WriteString("\n")

	extra := false
	if f, ok := c.Fragment("readme"); ok && f.OK && strings.TrimSpace(f.Payload.Text) != "" {
		extra = true
		txt := f.Payload.Text
		if len(txt) > readmeLimit {
			// 回退到 rune 边界，避免截出无效 UTF-8
			cut := readmeLimit
			for cut > 0 && !utf8.RuneStart(txt[cut]) {
				cut--
			}
			txt = txt[:cut]
		}
		b.WriteString("Project description:\n")
		b.WriteString(strings.TrimSpace(txt))
		b.WriteString("\n\n")
	}
	if f, ok := c.Fragment("history"); ok && f.OK && len(f.Payload.Items) > 0 {
		extra = true
		b.WriteString("Recent commit messages:\n")
		for _, m := range f.Payload.Items {
			// 仅取首行，保持提示词紧凑
			first := m
			if i := strings.IndexByte(m, '\n'); i >= 0 {
				first = m[:i]
			}
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(first))
		}
		b.WriteString("\n")
	}
	if f, ok := c.Fragment("issue"); ok && f.OK && len(f.Payload.Items) > 0 {
		extra = true
		b.WriteString("Related issues:\n")
		for _, t := range f.Payload.Items {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(t))
		}
		b.WriteString("\n")
	}
	for _, f := range c.Fragments {
		switch f.Source {
		case contract.SourceDiff, "readme", "history", "issue":
			continue
		}
		if !f.OK || f.Payload.Empty() {
			continue
		}
		extra = true
		fmt.Fprintf(&b, "Additional context (%s):\n", f.Source)
		if t := strings.TrimSpace(f.Payload.Text); t != "" {
			b.WriteString(t)
			b.WriteString("\n")
		}
		for _, it := range f.Payload.Items {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(it))
		}
		b.WriteString("\n")
	}
	if !extra {
		b.WriteString("No additional context provided.\n\n")
	}

	b.WriteString("Staged changes:\n")
	for _, sec := range gitx.SplitDiff(c.Diff()) {
		fmt.Fprintf(&b, "File: %s\n```diff\n%s\n```\n", sec.Path, strings.TrimRight(sec.Body, "\n"))
	}
	return contract.Prompt(b.String())
}

// MakeEstimator 返回按字节数近似 token 的估算器。
// bytesPerToken<=0 时取 4。
func MakeEstimator(bytesPerToken int) func(contract.Prompt) int {
	if bytesPerToken <= 0 {
		bytesPerToken = 4
	}
	return func(p contract.Prompt) int {
		n := len(p)
		return (n + bytesPerToken - 1) / bytesPerToken
	}
}
