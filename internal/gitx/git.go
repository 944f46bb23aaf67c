package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// 本包封装对 git 可执行文件的最小调用面。
// 约束：每个函数一次子进程调用；尊重 ctx；不解析语义，仅透传文本。

// run 执行 git 子命令并返回 stdout（去尾部空白）。
func run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errb.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

// IsRepository 判断当前目录是否位于 git 工作树内。
func IsRepository(ctx context.Context) bool {
	out, err := run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// HasStagedChanges 判断暂存区是否有内容。
// --quiet 在有差异时以非零码退出。
func HasStagedChanges(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var ee *exec.ExitError
	if ok := asExitError(err, &ee); ok && ee.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached --quiet: %w", err)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// StagedDiff 返回暂存区的统一 diff 文本（可为空）。
func StagedDiff(ctx context.Context) (string, error) {
	return run(ctx, "diff", "--cached")
}

// WorktreeDiff 返回工作区相对 HEAD 的统一 diff 文本。
func WorktreeDiff(ctx context.Context) (string, error) {
	return run(ctx, "diff")
}

// Branch 返回当前分支名（分离头返回 "HEAD"）。
func Branch(ctx context.Context) (string, error) {
	return run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Root 返回仓库顶层目录。
func Root(ctx context.Context) (string, error) {
	return run(ctx, "rev-parse", "--show-toplevel")
}

// Author 返回 user.name 配置（未设置时为空串，不视为错误）。
func Author(ctx context.Context) string {
	out, err := run(ctx, "config", "user.name")
	if err != nil {
		return ""
	}
	return out
}

// History 返回最近 n 条提交信息（%B，NUL 分隔）。空仓库返回空列表。
func History(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("history: n must be positive, got %d", n)
	}
	out, err := run(ctx, "log", fmt.Sprintf("-n%d", n), "--pretty=%B%x00")
	if err != nil {
		if strings.Contains(err.Error(), "does not have any commits") {
			return nil, nil
		}
		return nil, err
	}
	parts := strings.Split(strings.Trim(out, "\x00"), "\x00")
	msgs := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			msgs = append(msgs, s)
		}
	}
	return msgs, nil
}

// Commit 以给定消息创建提交。
func Commit(ctx context.Context, message string) error {
	_, err := run(ctx, "commit", "-m", message)
	return err
}
