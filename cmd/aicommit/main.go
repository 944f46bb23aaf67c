package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cfgpkg "aicommit/internal/config"
	"aicommit/internal/diag"
	"aicommit/internal/gitx"
	"aicommit/internal/pipeline"
)

// 简化的 CLI：默认动作为生成一次提交信息并打印到 stdout。
// 全局旗标（最小集）：--config, --llm, --stream, --commit, --max-attempts,
// --language, --strict, --no-cache, --init-config, --install-hook, --status
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := genCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	logger := diag.NewLogger(corrID, "info")

	var (
		flagConfig      string
		flagLLM         string
		flagStream      bool
		flagCommit      bool
		flagMaxAttempts int
		flagLanguage    string
		flagStrict      bool
		flagNoCache     bool
		flagInitConfig  bool
		flagInstallHook bool
		flagStatus      bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（YAML）；缺省按 用户级→项目级 分层装载")
	flag.StringVar(&flagLLM, "llm", "", "provider 名称（覆盖配置）")
	flag.BoolVar(&flagStream, "stream", false, "流式输出（旁路缓存）")
	flag.BoolVar(&flagCommit, "commit", false, "生成后直接创建提交")
	flag.IntVar(&flagMaxAttempts, "max-attempts", 0, "生成最大尝试次数（覆盖配置）")
	flag.StringVar(&flagLanguage, "language", "", "输出语言（覆盖配置）")
	flag.BoolVar(&flagStrict, "strict", false, "校验 Finding 视为致命")
	flag.BoolVar(&flagNoCache, "no-cache", false, "本次运行禁用结果缓存")
	flag.BoolVar(&flagInitConfig, "init-config", false, "在当前目录生成 .aicommit.yaml 起步配置（不覆盖）")
	flag.BoolVar(&flagInstallHook, "install-hook", false, "安装 prepare-commit-msg 钩子")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	flag.Parse()

	if flagInitConfig {
		if err := cfgpkg.WriteDefault(".aicommit.yaml"); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			return 3
		}
		// .env 模板失败不阻塞（已存在时跳过）
		if err := writeDotEnv(".env"); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		fprintf(os.Stderr, "已生成 .aicommit.yaml\n")
		return 0
	}

	cfg, err := cfgpkg.Load(flagConfig)
	if err != nil {
		fprintf(os.Stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// CLI 覆盖
	if flagLLM != "" {
		cfg.LLM = flagLLM
	}
	if flagMaxAttempts > 0 {
		cfg.Run.MaxAttempts = flagMaxAttempts
	}
	if flagLanguage != "" {
		cfg.Output.Language = flagLanguage
	}
	if flagStrict {
		cfg.Render.Strict = true
	}
	if flagNoCache {
		off := false
		cfg.Cache.Enabled = &off
	}

	if flagInstallHook {
		if err := installHook(cfg.Hook); err != nil {
			fprintf(os.Stderr, "钩子安装失败: %v\n", err)
			return 3
		}
		fprintf(os.Stderr, "已安装 prepare-commit-msg 钩子\n")
		return 0
	}

	// 使用最终配置中的日志级别重建 logger
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		logger = diag.NewLogger(corrID, lvl)
	}

	comps, settings, err := cfgpkg.Assemble(cfg, logger)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	if comps.Cache != nil {
		defer comps.Cache.Close()
	}

	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	p := pipeline.New(comps, settings)
	ctx := context.Background()

	var out pipeline.Outcome
	t := logger.Start("pipeline", "run")
	if flagStream {
		out, err = p.RunStream(ctx, func(chunk string) {
			_, _ = os.Stdout.WriteString(chunk)
		})
		if err == nil && !strings.HasSuffix(out.Message.Text, "\n") {
			_, _ = os.Stdout.WriteString("\n")
		}
	} else {
		out, err = p.Run(ctx)
		if err == nil {
			_, _ = os.Stdout.WriteString(out.Message.Text)
		}
	}
	if err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		return 1
	}
	t.Finish("run", int64(out.Level))

	for _, w := range out.Warnings {
		fprintf(os.Stderr, "警告: %s\n", w)
	}
	for _, f := range out.Message.Findings {
		fprintf(os.Stderr, "校验: %s: %s\n", f.Code, f.Detail)
	}

	if flagCommit {
		if err := gitx.Commit(ctx, strings.TrimRight(out.Message.Text, "\n")); err != nil {
			fprintf(os.Stderr, "提交失败: %v\n", err)
			return 1
		}
		fprintf(os.Stderr, "已创建提交\n")
	}
	return 0
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func genCorrID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// hookScript 写入 .git/hooks/prepare-commit-msg。
// 仅在未指定消息来源（非 merge/squash/-m）时生成；生成失败不阻塞提交。
const hookScript = `#!/bin/sh
# installed by aicommit
msg_file="$1"
source="$2"
[ -n "$source" ] && exit 0
if command -v aicommit >/dev/null 2>&1; then
  out=$(aicommit -status=false 2>/dev/null)
  [ -n "$out" ] && printf '%s\n' "$out" >"$msg_file"
fi
exit 0
`

func installHook(hc cfgpkg.HookConfig) error {
	if !hc.Enabled {
		return fmt.Errorf("hook.enabled 为 false，拒绝安装")
	}
	ctx := context.Background()
	root, err := gitx.Root(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(root, ".git", "hooks", "prepare-commit-msg")
	if _, err := os.Stat(path); err == nil && hc.NoOverwrite {
		return fmt.Errorf("%s 已存在（hook.no_overwrite 生效）", path)
	}
	return os.WriteFile(path, []byte(hookScript), 0o755)
}

const dotEnvTemplate = `# aicommit 环境变量（不要提交到版本库）
# OPENAI_API_KEY=sk-...
# ANTHROPIC_API_KEY=sk-ant-...
# DEEPSEEK_API_KEY=sk-...
# GITHUB_TOKEN=ghp_...
`

// writeDotEnv 生成 .env 模板；已存在时不覆盖。
func writeDotEnv(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(dotEnvTemplate), 0o600)
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 跳过注释与空行；仅按首个 '=' 分割；成对引号剥除；
// 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				quoted := val[0]
				val = val[1 : len(val)-1]
				if quoted == '"' {
					val = strings.ReplaceAll(val, "\\n", "\n")
					val = strings.ReplaceAll(val, "\\t", "\t")
					val = strings.ReplaceAll(val, "\\\"", "\"")
					val = strings.ReplaceAll(val, "\\\\", "\\")
				}
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}
