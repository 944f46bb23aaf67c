// Package mcp 执行一条外部命令并把 stdout 作为上下文片段。
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"aicommit/pkg/contract"
)

// Options: 待执行命令。
type Options struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	// MaxOutputBytes 截断上限，默认 8KiB。
	MaxOutputBytes int `json:"max_output_bytes"`
}

type Source struct {
	command string
	args    []string
	maxOut  int
}

// New 从原样 JSON 选项构造来源。
func New(raw json.RawMessage) (*Source, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("mcp options: %w", err)
		}
	}
	if opts.Command == "" {
		return nil, fmt.Errorf("mcp: %w: missing command", contract.ErrInvalidInput)
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 8 << 10
	}
	return &Source{command: opts.Command, args: opts.Args, maxOut: opts.MaxOutputBytes}, nil
}

func (s *Source) Collect(ctx context.Context) (contract.Fragment, error) {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errb.String())
		if msg == "" {
			msg = err.Error()
		}
		return contract.Fragment{}, fmt.Errorf("mcp %s: %s", s.command, msg)
	}
	text := out.String()
	if len(text) > s.maxOut {
		text = text[:s.maxOut]
	}
	return contract.Fragment{Payload: contract.Payload{Text: strings.TrimSpace(text)}}, nil
}

var _ contract.FragmentSource = (*Source)(nil)
