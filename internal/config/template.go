package config

import (
	"fmt"
	"os"
)

// defaultConfigYAML 是 --init-config 写出的起步配置。
const defaultConfigYAML = `# aicommit 配置（项目级）。与 ~/.aicommit/config.yaml 深合并。
llm: openai

providers:
  openai:
    client: openai
    options:
      model: gpt-4o-mini
      api_key_env: OPENAI_API_KEY
    limits:
      rpm: 60
  anthropic:
    client: anthropic
    options:
      model: claude-3-5-haiku-latest
      api_key_env: ANTHROPIC_API_KEY

sources:
  - type: diff
    required: true
    timeout_sec: 10
  - type: readme
    timeout_sec: 5
  - type: history
    timeout_sec: 5
    options:
      count: 10
  # - type: issue
  #   timeout_sec: 8
  #   options:
  #     repo: owner/name

render:
  template: conventional
  max_subject_len: 72
  wrap_body_at: 100

cache:
  enabled: true
  path: ~/.aicommit/cache.db
  ttl_sec: 86400
  scope: diff_only
  invalidate_on_branch_switch: true

output:
  language: en

run:
  timeout_sec: 120
  generate_timeout_sec: 60
  max_attempts: 3

logging:
  level: info
`

// WriteDefault 写出起步配置；文件已存在时拒绝覆盖。
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
