package gitx

import "strings"

// FileDiff 是统一 diff 中单个文件的片段。
// Path 取自 "diff --git a/X b/Y" 头的 b/ 路径；Body 含头行本身。
type FileDiff struct {
	Path string
	Body string
}

const diffHeader = "diff --git "

// SplitDiff 将统一 diff 切分为按文件的片段。
// 约束：纯函数；保持出现顺序；非 diff 前缀文本归并到首个片段之前被丢弃。
func SplitDiff(diff string) []FileDiff {
	if strings.TrimSpace(diff) == "" {
		return nil
	}
	lines := strings.Split(diff, "\n")
	var out []FileDiff
	var cur []string
	flush := func() {
		if len(cur) == 0 {
			return
		}
		body := strings.Join(cur, "\n")
		out = append(out, FileDiff{Path: headerPath(cur[0]), Body: body})
		cur = nil
	}
	started := false
	for _, ln := range lines {
		if strings.HasPrefix(ln, diffHeader) {
			flush()
			started = true
		}
		if started {
			cur = append(cur, ln)
		}
	}
	flush()
	return out
}

// headerPath 从 "diff --git a/X b/Y" 提取 Y；无法解析时返回整行尾段。
func headerPath(header string) string {
	rest := strings.TrimPrefix(header, diffHeader)
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	return strings.TrimPrefix(last, "b/")
}

// TouchedPaths 返回 diff 中出现的文件路径（去重，保序）。
func TouchedPaths(diff string) []string {
	secs := SplitDiff(diff)
	seen := make(map[string]struct{}, len(secs))
	var paths []string
	for _, s := range secs {
		if s.Path == "" {
			continue
		}
		if _, ok := seen[s.Path]; ok {
			continue
		}
		seen[s.Path] = struct{}{}
		paths = append(paths, s.Path)
	}
	return paths
}
