// Package fingerprint 对一次运行的输入计算稳定指纹。
//
// 指纹是缓存键：相同输入必须得到相同指纹，与 diff 中文件片段的
// 出现顺序无关。
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"aicommit/internal/gitx"
	"aicommit/pkg/contract"
)

// Scope 决定除 diff 外还有哪些输入参与指纹。
type Scope string

const (
	// ScopeDiffOnly 仅对归一化后的暂存 diff 取指纹。
	ScopeDiffOnly Scope = "diff_only"
	// ScopeDiffBranch 额外混入当前分支名。
	ScopeDiffBranch Scope = "diff_branch"
	// ScopeDiffPaths 额外混入排序后的触及路径集。
	ScopeDiffPaths Scope = "diff_paths"
)

// ParseScope 校验并转换配置字符串。
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeDiffOnly, ScopeDiffBranch, ScopeDiffPaths:
		return Scope(s), nil
	case "":
		return ScopeDiffOnly, nil
	}
	return "", fmt.Errorf("fingerprint: unknown scope %q", s)
}

// New 计算指纹。diff 片段缺失或为空时返回 contract.ErrNoDiff。
// 约束：幂等；片段按路径排序后以 NUL 连接，消除 git 输出顺序差异。
func New(c contract.Context, scope Scope) (contract.Fingerprint, error) {
	diff := c.Diff()
	if strings.TrimSpace(diff) == "" {
		return "", contract.ErrNoDiff
	}
	h := sha256.New()
	h.Write([]byte(normalize(diff)))
	switch scope {
	case ScopeDiffBranch:
		h.Write([]byte{0})
		h.Write([]byte(c.Meta.Branch))
	case ScopeDiffPaths:
		paths := gitx.TouchedPaths(diff)
		sort.Strings(paths)
		for _, p := range paths {
			h.Write([]byte{0})
			h.Write([]byte(p))
		}
	}
	return contract.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// normalize 将 diff 切分为文件片段、按路径排序后重新拼接。
func normalize(diff string) string {
	secs := gitx.SplitDiff(diff)
	if len(secs) == 0 {
		return strings.TrimSpace(diff)
	}
	sort.SliceStable(secs, func(i, j int) bool { return secs[i].Path < secs[j].Path })
	parts := make([]string, len(secs))
	for i, s := range secs {
		parts[i] = strings.TrimRight(s.Body, "\n")
	}
	return strings.Join(parts, "\x00")
}
