package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// 分层装载顺序：默认值 → 用户级 → 项目级；--config 指定时
// 跳过用户/项目层，只在默认值上套显式文件。

const (
	userConfigDir  = ".aicommit"
	userConfigName = "config.yaml"
	projectConfig  = ".aicommit.yaml"
)

// Load 按分层规则装载配置。explicit 非空时为 --config 路径。
func Load(explicit string) (Config, error) {
	tree := map[string]any{}
	if explicit != "" {
		layer, err := loadTree(explicit)
		if err != nil {
			return Config{}, err
		}
		deepMerge(tree, layer)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if layer, err := loadTree(filepath.Join(home, userConfigDir, userConfigName)); err == nil {
				deepMerge(tree, layer)
			} else if !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		}
		if layer, err := loadTree(projectConfig); err == nil {
			deepMerge(tree, layer)
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	applyEnvOverlay(tree)

	cfg := Defaults()
	if len(tree) > 0 {
		if err := decodeStrict(tree, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// loadTree 读取一个 YAML 文件为泛型树。
func loadTree(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return tree, nil
}

// deepMerge 将 src 深合并进 dst：同键映射递归，其余覆盖。
func deepMerge(dst, src map[string]any) {
	for k, sv := range src {
		if dm, ok := dst[k].(map[string]any); ok {
			if sm, ok := sv.(map[string]any); ok {
				deepMerge(dm, sm)
				continue
			}
		}
		dst[k] = sv
	}
}

// decodeStrict 把泛型树按结构严格解码，未知键报错。
func decodeStrict(tree map[string]any, cfg *Config) error {
	b, err := yaml.Marshal(normalizeTree(tree))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// applyEnvOverlay 用 AICOMMIT_* 环境变量覆盖少量高频键。
func applyEnvOverlay(tree map[string]any) {
	set := func(path []string, v any) {
		m := tree
		for _, k := range path[:len(path)-1] {
			next, ok := m[k].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[k] = next
			}
			m = next
		}
		m[path[len(path)-1]] = v
	}
	if v := os.Getenv("AICOMMIT_LLM"); v != "" {
		set([]string{"llm"}, v)
	}
	if v := os.Getenv("AICOMMIT_CACHE_PATH"); v != "" {
		set([]string{"cache", "path"}, v)
	}
	if v := os.Getenv("AICOMMIT_CACHE_ENABLED"); v != "" {
		set([]string{"cache", "enabled"}, strings.EqualFold(v, "true") || v == "1")
	}
	if v := os.Getenv("AICOMMIT_LOG_LEVEL"); v != "" {
		set([]string{"logging", "level"}, v)
	}
	if v := os.Getenv("AICOMMIT_LANGUAGE"); v != "" {
		set([]string{"output", "language"}, v)
	}
}

// expandHome 展开路径前缀 "~/"。
func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
