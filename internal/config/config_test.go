package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// UT-CFG-01: 零配置可装载且通过校验。
func TestDefaultsValid(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("默认配置应有效: %v", err)
	}
}

// UT-CFG-02: 显式文件覆盖默认值；未知键被拒绝。
func TestLoadExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	os.WriteFile(path, []byte("llm: mock\nproviders:\n  mock:\n    client: mock\n"), 0o644)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("装载失败: %v", err)
	}
	if cfg.LLM != "mock" {
		t.Fatalf("llm 未覆盖: %q", cfg.LLM)
	}
	// 未触碰的键保持默认
	if cfg.Run.MaxAttempts != 3 {
		t.Fatalf("默认值丢失: %+v", cfg.Run)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("bogus_key: 1\n"), 0o644)
	if _, err := Load(bad); err == nil {
		t.Fatalf("未知键应报错")
	}
}

// UT-CFG-03: 深合并保留未覆盖的嵌套键。
func TestDeepMerge(t *testing.T) {
	dst := map[string]any{"cache": map[string]any{"path": "p", "ttl_sec": 1}}
	deepMerge(dst, map[string]any{"cache": map[string]any{"ttl_sec": 9}})
	c := dst["cache"].(map[string]any)
	if c["path"] != "p" || c["ttl_sec"] != 9 {
		t.Fatalf("深合并不符: %+v", c)
	}
}

// UT-CFG-04: 环境变量覆盖高频键。
func TestEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	os.WriteFile(path, []byte("llm: mock\nproviders:\n  mock:\n    client: mock\n"), 0o644)
	t.Setenv("AICOMMIT_LOG_LEVEL", "debug")
	t.Setenv("AICOMMIT_LANGUAGE", "zh-CN")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("装载失败: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Output.Language != "zh-CN" {
		t.Fatalf("环境覆盖失败: %+v %+v", cfg.Logging, cfg.Output)
	}
}

// UT-CFG-05: 校验拒绝未知 provider/来源类型/作用域。
func TestValidateRejects(t *testing.T) {
	cfg := Defaults()
	cfg.LLM = "missing"
	if err := Validate(cfg); err == nil {
		t.Fatalf("未知 provider 应报错")
	}
	cfg = Defaults()
	cfg.Sources = append(cfg.Sources, SourceConfig{Type: "bogus"})
	if err := Validate(cfg); err == nil {
		t.Fatalf("未知来源类型应报错")
	}
	cfg = Defaults()
	cfg.Cache.Scope = "bogus"
	if err := Validate(cfg); err == nil {
		t.Fatalf("未知作用域应报错")
	}
}

// UT-CFG-06: mock 配置可完整装配出流水线部件。
func TestAssembleMock(t *testing.T) {
	cfg := Defaults()
	cfg.LLM = "mock"
	cfg.Providers = map[string]Provider{"mock": {Client: "mock"}}
	cfg.Sources = []SourceConfig{{Type: "static", Required: false}}
	f := false
	cfg.Cache.Enabled = &f
	comps, settings, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if comps.LLM == nil || comps.Streamer == nil || comps.Renderer == nil {
		t.Fatalf("部件缺失: %+v", comps)
	}
	if len(comps.Sources) != 1 || comps.Sources[0].Name != "static" {
		t.Fatalf("来源槽位不符: %+v", comps.Sources)
	}
	if settings.Retry.MaxAttempts != 3 {
		t.Fatalf("重试参数不符: %+v", settings.Retry)
	}
}

// UT-CFG-07: --init-config 拒绝覆盖既有文件。
func TestWriteDefaultNoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".aicommit.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("首次写出失败: %v", err)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), "llm: openai") {
		t.Fatalf("起步配置内容不符")
	}
	if err := WriteDefault(path); err == nil {
		t.Fatalf("应拒绝覆盖")
	}
}
