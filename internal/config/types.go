// Package config 负责分层配置的装载、合并、校验与部件装配。
package config

import (
	"encoding/json"
	"fmt"
)

// Config 是顶层配置。YAML 键与结构字段一一对应，未知键拒绝。
type Config struct {
	LLM       string              `yaml:"llm"`
	Providers map[string]Provider `yaml:"providers"`
	Sources   []SourceConfig      `yaml:"sources"`
	Render    RenderConfig        `yaml:"render"`
	Cache     CacheConfig         `yaml:"cache"`
	Output    OutputConfig        `yaml:"output"`
	Run       RunConfig           `yaml:"run"`
	Logging   LoggingConfig       `yaml:"logging"`
	Hook      HookConfig          `yaml:"hook"`
}

// Provider 绑定客户端实现与其原样选项。
type Provider struct {
	Client  string         `yaml:"client"`
	Options map[string]any `yaml:"options"`
	Limits  LimitsConfig   `yaml:"limits"`
}

// LimitsConfig 是限流配置；0 表示该维度不启用。
type LimitsConfig struct {
	RPM             int `yaml:"rpm"`
	TPM             int `yaml:"tpm"`
	MaxTokensPerReq int `yaml:"max_tokens_per_req"`
}

// SourceConfig 声明一个上下文来源槽位。
type SourceConfig struct {
	Name       string         `yaml:"name"` // 为空取 Type
	Type       string         `yaml:"type"`
	Required   bool           `yaml:"required"`
	TimeoutSec int            `yaml:"timeout_sec"`
	Options    map[string]any `yaml:"options"`
}

// RenderConfig 控制模板与校验。
type RenderConfig struct {
	Template        string   `yaml:"template"`
	TemplateDir     string   `yaml:"template_dir"`
	MaxSubjectLen   int      `yaml:"max_subject_len"`
	WrapBodyAt      int      `yaml:"wrap_body_at"`
	ForbiddenTokens []string `yaml:"forbidden_tokens"`
	Strict          bool     `yaml:"strict"`
}

// CacheConfig 控制结果缓存。
type CacheConfig struct {
	Enabled                  *bool  `yaml:"enabled"`
	Path                     string `yaml:"path"`
	TTLSec                   int    `yaml:"ttl_sec"`
	Scope                    string `yaml:"scope"`
	InvalidateOnBranchSwitch bool   `yaml:"invalidate_on_branch_switch"`
	InvalidateOnPathTouch    bool   `yaml:"invalidate_on_path_touch"`
}

func (c CacheConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// OutputConfig 控制产出形态。
type OutputConfig struct {
	Language string `yaml:"language"`
}

// RunConfig 控制超时与重试。
type RunConfig struct {
	TimeoutSec         int `yaml:"timeout_sec"`
	GenerateTimeoutSec int `yaml:"generate_timeout_sec"`
	MaxAttempts        int `yaml:"max_attempts"`
	BackoffInitialMS   int `yaml:"backoff_initial_ms"`
	BackoffMaxMS       int `yaml:"backoff_max_ms"`
}

// LoggingConfig 控制结构化日志。
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HookConfig 控制 git 钩子安装。
type HookConfig struct {
	Enabled     bool `yaml:"enabled"`
	NoOverwrite bool `yaml:"no_overwrite"`
}

// Defaults 返回零配置可运行的基线。
func Defaults() Config {
	return Config{
		LLM: "openai",
		Providers: map[string]Provider{
			"openai": {Client: "openai"},
		},
		Sources: []SourceConfig{
			{Type: "diff", Required: true, TimeoutSec: 10},
			{Type: "readme", TimeoutSec: 5},
			{Type: "history", TimeoutSec: 5},
		},
		Cache: CacheConfig{
			Path:                     "~/.aicommit/cache.db",
			TTLSec:                   86400,
			Scope:                    "diff_only",
			InvalidateOnBranchSwitch: true,
		},
		Run: RunConfig{
			TimeoutSec:         120,
			GenerateTimeoutSec: 60,
			MaxAttempts:        3,
			BackoffInitialMS:   500,
			BackoffMaxMS:       8000,
		},
		Logging: LoggingConfig{Level: "info"},
		Hook:    HookConfig{Enabled: true, NoOverwrite: true},
	}
}

// optionsJSON 将 YAML 解出的泛型选项树转为原样 JSON，供工厂严格解码。
func optionsJSON(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(normalizeTree(m))
	if err != nil {
		return nil, fmt.Errorf("config: options: %w", err)
	}
	return b, nil
}

// normalizeTree 将 yaml.v3 可能产出的 map[any]any 归一化为 map[string]any。
func normalizeTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeTree(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeTree(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeTree(t[i])
		}
		return t
	default:
		return v
	}
}
