// Package openai 通过官方 SDK 调用 OpenAI Chat Completions。
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	oa "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"aicommit/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL     string   `json:"base_url"` // 为空用官方端点
	Model       string   `json:"model"`
	APIKeyEnv   string   `json:"api_key_env"` // 优先从环境变量读取
	APIKey      string   `json:"api_key"`     // 明文传入（仅测试）
	MaxTokens   int64    `json:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gpt-4o-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
}

type Client struct {
	api   oa.Client
	model string
	max   int64
	temp  *float64
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	ro := []option.RequestOption{option.WithAPIKey(key)}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{api: oa.NewClient(ro...), model: opts.Model, max: opts.MaxTokens, temp: opts.Temperature}, nil
}

func (c *Client) params(p contract.Prompt) oa.ChatCompletionNewParams {
	params := oa.ChatCompletionNewParams{
		Model: oa.ChatModel(c.model),
		Messages: []oa.ChatCompletionMessageParamUnion{
			oa.UserMessage(string(p)),
		},
		MaxTokens: oa.Int(c.max),
	}
	if c.temp != nil {
		params.Temperature = oa.Float(*c.temp)
	}
	return params
}

// Invoke: 单次调用，同步返回。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	resp, err := c.api.Chat.Completions.New(ctx, c.params(p))
	if err != nil {
		return contract.Raw{}, mapErr(ctx, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: resp.Choices[0].Message.Content}, nil
}

// InvokeStream: 流式调用，分片为增量文本。
func (c *Client) InvokeStream(ctx context.Context, p contract.Prompt) (contract.RawStream, error) {
	s := c.api.Chat.Completions.NewStreaming(ctx, c.params(p))
	if err := s.Err(); err != nil {
		return nil, mapErr(ctx, err)
	}
	return &stream{ctx: ctx, inner: s}, nil
}

type stream struct {
	ctx   context.Context
	inner interface {
		Next() bool
		Current() oa.ChatCompletionChunk
		Err() error
		Close() error
	}
}

func (s *stream) Next() (string, bool, error) {
	for s.inner.Next() {
		chunk := s.inner.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, false, nil
		}
	}
	if err := s.inner.Err(); err != nil {
		return "", false, mapErr(s.ctx, err)
	}
	return "", true, nil
}

func (s *stream) Close() error { return s.inner.Close() }

// upstreamError 实现 net.Error，将 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// mapErr 将 SDK 错误映射到哨兵/上游错误，供上游分类。
func mapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	var apierr *oa.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("openai upstream %d: %w", apierr.StatusCode, contract.ErrAuth)
		case apierr.StatusCode == http.StatusTooManyRequests:
			if apierr.Code == "insufficient_quota" {
				return fmt.Errorf("openai upstream %d: %w", apierr.StatusCode, contract.ErrQuota)
			}
			return fmt.Errorf("openai upstream %d: %w", apierr.StatusCode, contract.ErrRateLimited)
		case apierr.StatusCode/100 == 5 || apierr.StatusCode == http.StatusRequestTimeout:
			return upstreamError{status: apierr.StatusCode, msg: apierr.Message}
		default:
			return fmt.Errorf("openai upstream %d: %s: %w", apierr.StatusCode, apierr.Message, contract.ErrInvalidInput)
		}
	}
	return err
}

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
)
