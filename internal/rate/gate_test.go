package rate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"aicommit/pkg/contract"
)

// UT-RAT-01: RPM 额度耗尽后 Try 拒绝，时间推进后恢复。
func TestTryRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 2}}, clk)
	if !g.Try(Ask{Key: "k"}) || !g.Try(Ask{Key: "k"}) {
		t.Fatalf("前两次应放行")
	}
	if g.Try(Ask{Key: "k"}) {
		t.Fatalf("额度耗尽应拒绝")
	}
	now = now.Add(31 * time.Second) // 2 RPM，半分钟回填 1
	if !g.Try(Ask{Key: "k"}) {
		t.Fatalf("回填后应放行")
	}
}

// UT-RAT-02: 超出单请求 token 上限时 Wait 快速失败。
func TestWaitMaxTokensPerReq(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {MaxTokensPerReq: 10}}, nil)
	err := g.Wait(context.Background(), Ask{Key: "k", Tokens: 11})
	if !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("期望 ErrInvalidInput，得到 %v", err)
	}
}

// UT-RAT-03: 未配置的键不限额。
func TestUnknownKeyUnlimited(t *testing.T) {
	g := NewGate(nil, nil)
	for i := 0; i < 100; i++ {
		if !g.Try(Ask{Key: "anything", Tokens: 1 << 20}) {
			t.Fatalf("未配置键应始终放行")
		}
	}
}

// UT-RAT-04: Wait 在 ctx 取消时返回。
func TestWaitCancel(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, nil)
	g.Try(Ask{Key: "k"}) // 耗尽额度
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := g.Wait(ctx, Ask{Key: "k"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("期望超时错误，得到 %v", err)
	}
}

// UT-RAT-05: DeriveKey 识别 api_key 与环境变量，缺凭据报错。
func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey("openai", json.RawMessage(`{"api_key":"sk-a"}`))
	if err != nil || !strings.HasPrefix(string(k1), "openai:") {
		t.Fatalf("直接键解析失败: %v %v", k1, err)
	}
	t.Setenv("RATE_TEST_KEY", "sk-b")
	k2, err := DeriveKey("anthropic", json.RawMessage(`{"api_key_env":"RATE_TEST_KEY"}`))
	if err != nil {
		t.Fatalf("环境变量解析失败: %v", err)
	}
	if k1 == k2 {
		t.Fatalf("不同凭据不应同键")
	}
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := DeriveKey("openai", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("缺凭据应报错")
	}
	if _, err := DeriveKey("mock", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("mock 应有占位键: %v", err)
	}
}

// UT-RAT-06: 选项缺凭据时退回客户端默认环境变量。
func TestDeriveKeyDefaultEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	k, err := DeriveKey("openai", json.RawMessage(`{"model":"gpt-4o-mini"}`))
	if err != nil || !strings.HasPrefix(string(k), "openai:") {
		t.Fatalf("应退回 OPENAI_API_KEY: %v %v", k, err)
	}
	want, _ := DeriveKey("openai", json.RawMessage(`{"api_key":"sk-default"}`))
	if k != want {
		t.Fatalf("默认环境变量应与显式键同组: %v %v", k, want)
	}
}
