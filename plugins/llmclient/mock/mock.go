// Package mock 提供确定性的离线客户端，用于联调与测试。
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aicommit/pkg/contract"
)

// Options: 行为配置。
type Options struct {
	// Mode: "fixed" 返回 Text；"echo" 返回提示词首行摘要。默认 fixed。
	Mode    string `json:"mode"`
	Text    string `json:"text"`
	DelayMS int    `json:"delay_ms"`
	// ChunkSize: 流式分片大小（字节），默认 16。
	ChunkSize int `json:"chunk_size"`
}

type Client struct {
	opts Options
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if opts.Mode == "" {
		opts.Mode = "fixed"
	}
	if opts.Text == "" {
		opts.Text = "chore: apply staged changes\n\nGenerated by the mock client."
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 16
	}
	return &Client{opts: opts}, nil
}

func (c *Client) text(p contract.Prompt) string {
	if c.opts.Mode == "echo" {
		first, _, _ := strings.Cut(string(p), "\n")
		return "chore: " + strings.ToLower(strings.TrimSpace(first))
	}
	return c.opts.Text
}

func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	if c.opts.DelayMS > 0 {
		t := time.NewTimer(time.Duration(c.opts.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	}
	return contract.Raw{Text: c.text(p)}, nil
}

func (c *Client) InvokeStream(ctx context.Context, p contract.Prompt) (contract.RawStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stream{text: c.text(p), size: c.opts.ChunkSize}, nil
}

type stream struct {
	text string
	size int
	pos  int
}

func (s *stream) Next() (string, bool, error) {
	if s.pos >= len(s.text) {
		return "", true, nil
	}
	end := s.pos + s.size
	if end > len(s.text) {
		end = len(s.text)
	}
	chunk := s.text[s.pos:end]
	s.pos = end
	return chunk, false, nil
}

func (s *stream) Close() error {
	s.pos = len(s.text)
	return nil
}

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
)
