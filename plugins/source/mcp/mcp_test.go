package mcp

import (
	"context"
	"testing"
)

// UT-MCP-01: 命令 stdout 成为片段文本。
func TestCollectStdout(t *testing.T) {
	s, err := New([]byte(`{"command":"sh","args":["-c","printf hello"]}`))
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}
	frag, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("收集失败: %v", err)
	}
	if frag.Payload.Text != "hello" {
		t.Fatalf("载荷不符: %q", frag.Payload.Text)
	}
}

// UT-MCP-02: 非零退出视为失败，stderr 进入错误信息。
func TestCollectFailure(t *testing.T) {
	s, _ := New([]byte(`{"command":"sh","args":["-c","echo boom >&2; exit 1"]}`))
	if _, err := s.Collect(context.Background()); err == nil {
		t.Fatalf("非零退出应失败")
	}
}

// UT-MCP-03: 缺命令在构造期报错。
func TestMissingCommand(t *testing.T) {
	if _, err := New([]byte(`{}`)); err == nil {
		t.Fatalf("缺命令应报错")
	}
}
