// Package readme 读取仓库自述文件作为项目背景。
package readme

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"aicommit/internal/gitx"
	"aicommit/pkg/contract"
)

// Options: 查找行为。
type Options struct {
	// Path 指定具体文件；为空时在仓库根按常见名探测。
	Path string `json:"path"`
}

var candidates = []string{"README.md", "README.rst", "README.txt", "README"}

type Source struct {
	path string
}

// New 从原样 JSON 选项构造来源。
func New(raw json.RawMessage) (*Source, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("readme options: %w", err)
		}
	}
	return &Source{path: opts.Path}, nil
}

func (s *Source) Collect(ctx context.Context) (contract.Fragment, error) {
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return contract.Fragment{}, err
		}
		return contract.Fragment{Payload: contract.Payload{Text: string(b)}}, nil
	}
	root, err := gitx.Root(ctx)
	if err != nil {
		return contract.Fragment{}, err
	}
	for _, name := range candidates {
		b, err := os.ReadFile(filepath.Join(root, name))
		if err == nil {
			return contract.Fragment{Payload: contract.Payload{Text: string(b)}}, nil
		}
	}
	return contract.Fragment{}, fmt.Errorf("readme: no readme file at %s", root)
}

var _ contract.FragmentSource = (*Source)(nil)
