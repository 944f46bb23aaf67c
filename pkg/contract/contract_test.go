package contract

import (
	"errors"
	"testing"
)

// UT-CON-01: 片段槽位查找与 diff 便捷访问
func TestContextFragmentLookup(t *testing.T) {
	ctx := Context{Fragments: []Fragment{
		{Source: "diff", OK: true, Payload: Payload{Text: "+a"}},
		{Source: "readme", OK: false, Err: "not found"},
	}}
	if got := ctx.Diff(); got != "+a" {
		t.Fatalf("diff 载荷错误: %q", got)
	}
	f, ok := ctx.Fragment("readme")
	if !ok || f.OK {
		t.Fatalf("缺席标记应存在且 OK=false: %+v ok=%v", f, ok)
	}
	if _, ok := ctx.Fragment("issue"); ok {
		t.Fatal("未配置来源不应有槽位")
	}
}

// UT-CON-02: 缺席 diff 返回空串
func TestContextDiffAbsent(t *testing.T) {
	ctx := Context{Fragments: []Fragment{{Source: "diff", OK: false, Err: "boom"}}}
	if ctx.Diff() != "" {
		t.Fatal("失败来源的载荷必须为空")
	}
}

// UT-CON-03: 错误链展开
func TestErrorUnwrap(t *testing.T) {
	base := errors.New("x")
	ge := &GenerationError{Class: Terminal, Attempts: 3, Err: base}
	if !errors.Is(ge, base) {
		t.Fatal("GenerationError 应可展开到底层原因")
	}
	ae := &AggregationError{Source: "diff", Err: base}
	if !errors.Is(ae, base) {
		t.Fatal("AggregationError 应可展开到底层原因")
	}
	re := &RenderError{Resolution: true, Template: "t", Err: ErrTemplateNotFound}
	if !errors.Is(re, ErrTemplateNotFound) {
		t.Fatal("RenderError 应可展开到哨兵")
	}
}
