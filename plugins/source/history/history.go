// Package history 收集最近的提交信息，帮助模型延续仓库的用语习惯。
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"aicommit/internal/gitx"
	"aicommit/pkg/contract"
)

// Options: 收集行为。
type Options struct {
	Count int `json:"count"` // 默认 10
}

type Source struct {
	count int
}

// New 从原样 JSON 选项构造来源。
func New(raw json.RawMessage) (*Source, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("history options: %w", err)
		}
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	return &Source{count: opts.Count}, nil
}

func (s *Source) Collect(ctx context.Context) (contract.Fragment, error) {
	msgs, err := gitx.History(ctx, s.count)
	if err != nil {
		return contract.Fragment{}, err
	}
	return contract.Fragment{Payload: contract.Payload{Items: msgs}}, nil
}

var _ contract.FragmentSource = (*Source)(nil)
