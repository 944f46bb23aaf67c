// Package diff 收集暂存区差异，是流水线的必选来源。
package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aicommit/internal/gitx"
	"aicommit/pkg/contract"
)

// Options: 收集行为。
type Options struct {
	// StagedOnly 为 false 时，暂存区为空则回退到工作区差异。默认 true。
	StagedOnly *bool `json:"staged_only"`
}

type Source struct {
	stagedOnly bool
}

// New 从原样 JSON 选项构造来源。
func New(raw json.RawMessage) (*Source, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("diff options: %w", err)
		}
	}
	staged := true
	if opts.StagedOnly != nil {
		staged = *opts.StagedOnly
	}
	return &Source{stagedOnly: staged}, nil
}

// Collect 读取暂存 diff。空 diff 视为失败：没有差异就没有可提交的内容。
func (s *Source) Collect(ctx context.Context) (contract.Fragment, error) {
	if !gitx.IsRepository(ctx) {
		return contract.Fragment{}, fmt.Errorf("diff: not inside a git repository")
	}
	out, err := gitx.StagedDiff(ctx)
	if err != nil {
		return contract.Fragment{}, err
	}
	if strings.TrimSpace(out) == "" && !s.stagedOnly {
		out, err = gitx.WorktreeDiff(ctx)
		if err != nil {
			return contract.Fragment{}, err
		}
	}
	if strings.TrimSpace(out) == "" {
		return contract.Fragment{}, fmt.Errorf("diff: %w", contract.ErrNoDiff)
	}
	return contract.Fragment{Payload: contract.Payload{Text: out}}, nil
}

var _ contract.FragmentSource = (*Source)(nil)
