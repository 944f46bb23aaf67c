// Package anthropic 通过官方 SDK 调用 Anthropic Messages API。
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	an "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aicommit/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	Model     string `json:"model"`
	APIKeyEnv string `json:"api_key_env"`
	APIKey    string `json:"api_key"`
	MaxTokens int64  `json:"max_tokens"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "claude-3-5-haiku-latest"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
}

type Client struct {
	api   an.Client
	model string
	max   int64
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("anthropic options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("anthropic: %w: missing api key", contract.ErrInvalidInput)
	}
	return &Client{api: an.NewClient(option.WithAPIKey(key)), model: opts.Model, max: opts.MaxTokens}, nil
}

func (c *Client) params(p contract.Prompt) an.MessageNewParams {
	return an.MessageNewParams{
		Model:     an.Model(c.model),
		MaxTokens: c.max,
		Messages: []an.MessageParam{
			an.NewUserMessage(an.NewTextBlock(string(p))),
		},
	}
}

// Invoke: 单次调用，拼接全部文本块。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	msg, err := c.api.Messages.New(ctx, c.params(p))
	if err != nil {
		return contract.Raw{}, mapErr(ctx, err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if t, ok := block.AsAny().(an.TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	if b.Len() == 0 {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: b.String()}, nil
}

// InvokeStream: 流式调用，仅转发文本增量事件。
func (c *Client) InvokeStream(ctx context.Context, p contract.Prompt) (contract.RawStream, error) {
	s := c.api.Messages.NewStreaming(ctx, c.params(p))
	if err := s.Err(); err != nil {
		return nil, mapErr(ctx, err)
	}
	return &stream{ctx: ctx, inner: s}, nil
}

type stream struct {
	ctx   context.Context
	inner interface {
		Next() bool
		Current() an.MessageStreamEventUnion
		Err() error
		Close() error
	}
}

func (s *stream) Next() (string, bool, error) {
	for s.inner.Next() {
		event := s.inner.Current()
		switch variant := event.AsAny().(type) {
		case an.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(an.TextDelta); ok && delta.Text != "" {
				return delta.Text, false, nil
			}
		}
	}
	if err := s.inner.Err(); err != nil {
		return "", false, mapErr(s.ctx, err)
	}
	return "", true, nil
}

func (s *stream) Close() error { return s.inner.Close() }

type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string {
	return fmt.Sprintf("anthropic upstream %d: %s", e.status, e.msg)
}
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 || e.status == 529 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// mapErr 将 SDK 错误映射到哨兵/上游错误。529 是 Anthropic 的过载码。
func mapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	var apierr *an.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("anthropic upstream %d: %w", apierr.StatusCode, contract.ErrAuth)
		case apierr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("anthropic upstream %d: %w", apierr.StatusCode, contract.ErrRateLimited)
		case apierr.StatusCode/100 == 5 || apierr.StatusCode == http.StatusRequestTimeout || apierr.StatusCode == 529:
			return upstreamError{status: apierr.StatusCode, msg: apierr.Error()}
		default:
			return fmt.Errorf("anthropic upstream %d: %w", apierr.StatusCode, contract.ErrInvalidInput)
		}
	}
	return err
}

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
)
