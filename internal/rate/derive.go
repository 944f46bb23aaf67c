package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// 各客户端缺省的凭据环境变量，与插件默认保持一致。
var defaultKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
}

// DeriveKey 从客户端标识与其原样 Options JSON 提取 API Key，
// 返回 client+sha256(key) 形式的限流分组键。
// 识别 "api_key" 与 "api_key_env" 两个键名；二者均缺省时退回
// 客户端各自的默认环境变量；mock/flaky 与 local 客户端无真实
// 凭据，使用固定占位键。
func DeriveKey(client string, raw json.RawMessage) (LimitKey, error) {
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)

	pick := func(key string) string {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	key := pick("api_key")
	if key == "" {
		if env := pick("api_key_env"); env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" {
		if env := defaultKeyEnv[client]; env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" {
		switch client {
		case "mock", "flaky":
			key = "MOCK_DEBUG_KEY"
		case "local":
			key = "LOCAL_NO_AUTH"
		}
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:])), nil
}
