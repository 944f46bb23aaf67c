// Package local 通过 OpenAI 兼容端点调用本地推理服务（Ollama 等）。
package local

import (
	"encoding/json"
	"fmt"

	"aicommit/plugins/llmclient/openai"
)

// Options 与 openai 同构；本地服务通常不校验凭据。
type Options struct {
	BaseURL     string   `json:"base_url"`
	Model       string   `json:"model"`
	APIKeyEnv   string   `json:"api_key_env"`
	APIKey      string   `json:"api_key"`
	MaxTokens   int64    `json:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// New 填充本地端点默认值后委托给 openai 客户端。
func New(raw json.RawMessage) (*openai.Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("local options: %w", err)
		}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434/v1"
	}
	if opts.Model == "" {
		opts.Model = "llama3"
	}
	if opts.APIKey == "" && opts.APIKeyEnv == "" {
		// 占位凭据，SDK 要求非空
		opts.APIKey = "local-no-auth"
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("local options: %w", err)
	}
	return openai.New(b)
}
