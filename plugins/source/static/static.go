// Package static 返回配置中固定的上下文片段，用于联调与测试。
package static

import (
	"context"
	"encoding/json"
	"fmt"

	"aicommit/pkg/contract"
)

// Options: 固定载荷。
type Options struct {
	Text   string            `json:"text"`
	Items  []string          `json:"items"`
	Fields map[string]string `json:"fields"`
}

type Source struct {
	payload contract.Payload
}

// New 从原样 JSON 选项构造来源。
func New(raw json.RawMessage) (*Source, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("static options: %w", err)
		}
	}
	return &Source{payload: contract.Payload{Text: opts.Text, Items: opts.Items, Fields: opts.Fields}}, nil
}

func (s *Source) Collect(ctx context.Context) (contract.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return contract.Fragment{}, err
	}
	return contract.Fragment{Payload: s.payload}, nil
}

var _ contract.FragmentSource = (*Source)(nil)
