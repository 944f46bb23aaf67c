// Package deepseek 复用 OpenAI 兼容协议调用 DeepSeek。
package deepseek

import (
	"encoding/json"
	"fmt"

	"aicommit/plugins/llmclient/openai"
)

// Options 与 openai 同构，仅默认值不同。
type Options struct {
	BaseURL     string   `json:"base_url"`
	Model       string   `json:"model"`
	APIKeyEnv   string   `json:"api_key_env"`
	APIKey      string   `json:"api_key"`
	MaxTokens   int64    `json:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// New 填充 DeepSeek 端点默认值后委托给 openai 客户端。
func New(raw json.RawMessage) (*openai.Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("deepseek options: %w", err)
		}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.deepseek.com"
	}
	if opts.Model == "" {
		opts.Model = "deepseek-chat"
	}
	if opts.APIKeyEnv == "" {
		opts.APIKeyEnv = "DEEPSEEK_API_KEY"
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("deepseek options: %w", err)
	}
	return openai.New(b)
}
