// Package flaky 按脚本注入失败，用于演练重试与降级路径。
package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"aicommit/pkg/contract"
)

// Options: 失败脚本。
type Options struct {
	// Script: 每次调用依序消费；"rate_limited"|"auth"|"quota"|"upstream_500"|
	// "invalid"|"ok"。耗尽后按 ok 处理。
	Script []string `json:"script"`
	Text   string   `json:"text"`
	// StreamFailAfter: 流式模式下送出 n 个分片后注入失败；0 不注入。
	StreamFailAfter int `json:"stream_fail_after"`
	ChunkSize       int `json:"chunk_size"`
}

type Client struct {
	mu    sync.Mutex
	opts  Options
	calls int
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if opts.Text == "" {
		opts.Text = "chore: apply staged changes\n\nGenerated after scripted failures."
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 16
	}
	return &Client{opts: opts}, nil
}

func (c *Client) step() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= len(c.opts.Script) {
		return c.opts.Script[c.calls-1]
	}
	return "ok"
}

func scriptErr(step string) error {
	switch step {
	case "rate_limited":
		return contract.ErrRateLimited
	case "auth":
		return contract.ErrAuth
	case "quota":
		return contract.ErrQuota
	case "upstream_500":
		return upstreamError{status: http.StatusInternalServerError, msg: "scripted"}
	case "invalid":
		return contract.ErrResponseInvalid
	}
	return nil
}

func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	if err := scriptErr(c.step()); err != nil {
		return contract.Raw{}, err
	}
	return contract.Raw{Text: c.opts.Text}, nil
}

func (c *Client) InvokeStream(ctx context.Context, p contract.Prompt) (contract.RawStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := scriptErr(c.step()); err != nil {
		return nil, err
	}
	return &stream{text: c.opts.Text, size: c.opts.ChunkSize, failAfter: c.opts.StreamFailAfter}, nil
}

type stream struct {
	text      string
	size      int
	failAfter int
	sent      int
	pos       int
}

func (s *stream) Next() (string, bool, error) {
	if s.failAfter > 0 && s.sent >= s.failAfter {
		return "", false, upstreamError{status: http.StatusBadGateway, msg: "scripted mid-stream"}
	}
	if s.pos >= len(s.text) {
		return "", true, nil
	}
	end := s.pos + s.size
	if end > len(s.text) {
		end = len(s.text)
	}
	chunk := s.text[s.pos:end]
	s.pos = end
	s.sent++
	return chunk, false, nil
}

func (s *stream) Close() error {
	s.pos = len(s.text)
	return nil
}

type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("flaky upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return false }
func (e upstreamError) Temporary() bool         { return true }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
)
