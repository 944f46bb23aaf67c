package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aicommit/internal/aggregate"
	"aicommit/internal/cache"
	"aicommit/internal/diag"
	"aicommit/internal/fingerprint"
	"aicommit/internal/pipeline"
	"aicommit/internal/prompt"
	"aicommit/internal/rate"
	"aicommit/internal/render"
	"aicommit/internal/retry"
	"aicommit/pkg/contract"
	"aicommit/pkg/registry"
)

// Validate 做装配前的快速校验，尽早失败。
func Validate(cfg Config) error {
	if cfg.LLM == "" {
		return fmt.Errorf("config: llm is required")
	}
	prov, ok := cfg.Providers[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: unknown provider %q", cfg.LLM)
	}
	client := prov.Client
	if client == "" {
		client = cfg.LLM
	}
	if registry.LLMClient[client] == nil {
		return fmt.Errorf("config: unknown llm client %q", client)
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("config: at least one source is required")
	}
	for _, s := range cfg.Sources {
		if registry.Source[s.Type] == nil {
			return fmt.Errorf("config: unknown source type %q", s.Type)
		}
	}
	if _, err := fingerprint.ParseScope(cfg.Cache.Scope); err != nil {
		return err
	}
	return nil
}

// Assemble 从配置构造流水线部件与运行参数。
func Assemble(cfg Config, log *diag.Logger) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	slots := make([]aggregate.SourceSlot, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		raw, err := optionsJSON(sc.Options)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
		impl, err := registry.Source[sc.Type](raw)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: source %s: %w", sc.Type, err)
		}
		name := sc.Name
		if name == "" {
			name = sc.Type
		}
		slots = append(slots, aggregate.SourceSlot{
			Name:     contract.SourceName(name),
			Required: sc.Required,
			Timeout:  time.Duration(sc.TimeoutSec) * time.Second,
			Impl:     impl,
		})
	}

	prov := cfg.Providers[cfg.LLM]
	client := prov.Client
	if client == "" {
		client = cfg.LLM
	}
	rawOpts, err := optionsJSON(prov.Options)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	llm, err := registry.LLMClient[client](rawOpts)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: llm %s: %w", client, err)
	}
	streamer, _ := llm.(contract.LLMStreamer)

	rdr, err := render.New(render.Options{
		Template:        cfg.Render.Template,
		TemplateDir:     cfg.Render.TemplateDir,
		MaxSubjectLen:   cfg.Render.MaxSubjectLen,
		WrapBodyAt:      cfg.Render.WrapBodyAt,
		ForbiddenTokens: cfg.Render.ForbiddenTokens,
		Strict:          cfg.Render.Strict,
	})
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	var store contract.Cache
	if cfg.Cache.IsEnabled() && cfg.Cache.Path != "" {
		path := expandHome(cfg.Cache.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if s, err := cache.Open(path, time.Duration(cfg.Cache.TTLSec)*time.Second); err == nil {
				store = s
			} else if log != nil {
				// 缓存打不开按禁用处理，不拦截运行
				log.Warn("cache", string(diag.CodeIO), err.Error(), "")
			}
		}
	}

	pol := retry.Policy{
		MaxAttempts:    cfg.Run.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Run.BackoffInitialMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Run.BackoffMaxMS) * time.Millisecond,
		Estimate:       prompt.MakeEstimator(0),
	}
	if prov.Limits != (LimitsConfig{}) {
		key, err := rate.DeriveKey(client, rawOpts)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
		pol.Gate = rate.NewGate(map[rate.LimitKey]rate.Limits{
			key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
		}, nil)
		pol.GateKey = key
	}

	scope, _ := fingerprint.ParseScope(cfg.Cache.Scope)
	comps := pipeline.Components{
		Sources:  slots,
		LLM:      llm,
		Streamer: streamer,
		Renderer: rdr,
		Cache:    store,
		Log:      log,
	}
	settings := pipeline.Settings{
		Scope:                    scope,
		Language:                 cfg.Output.Language,
		RunTimeout:               time.Duration(cfg.Run.TimeoutSec) * time.Second,
		GenTimeout:               time.Duration(cfg.Run.GenerateTimeoutSec) * time.Second,
		Retry:                    pol,
		InvalidateOnBranchSwitch: cfg.Cache.InvalidateOnBranchSwitch,
		InvalidateOnPathTouch:    cfg.Cache.InvalidateOnPathTouch,
	}
	return comps, settings, nil
}
