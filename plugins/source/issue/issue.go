// Package issue 从分支名解析 issue 编号并拉取其标题。
package issue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"aicommit/internal/gitx"
	"aicommit/pkg/contract"
)

// Options: GitHub 访问配置。
type Options struct {
	// Repo: "owner/name"。为空时本来源收集为空片段。
	Repo string `json:"repo"`
	// TokenEnv: 读取令牌的环境变量，默认 GITHUB_TOKEN。无令牌时匿名访问。
	TokenEnv string `json:"token_env"`
	BaseURL  string `json:"base_url"`
	// TimeoutSeconds: HTTP 客户端超时，默认 10。
	TimeoutSeconds int `json:"timeout_seconds"`
}

// 分支名中的 issue 编号：feature/123-x、fix-123、123-desc 等。
var numberPat = regexp.MustCompile(`(?:^|[/_-])#?(\d+)(?:[/_-]|$)`)

type Source struct {
	repo    string
	token   string
	baseURL string
	hc      *http.Client
}

// New 从原样 JSON 选项构造来源。
func New(raw json.RawMessage) (*Source, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("issue options: %w", err)
		}
	}
	if opts.TokenEnv == "" {
		opts.TokenEnv = "GITHUB_TOKEN"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.github.com"
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 10
	}
	return &Source{
		repo:    opts.Repo,
		token:   os.Getenv(opts.TokenEnv),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		hc:      &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
	}, nil
}

func (s *Source) Collect(ctx context.Context) (contract.Fragment, error) {
	if s.repo == "" {
		return contract.Fragment{}, nil
	}
	branch, err := gitx.Branch(ctx)
	if err != nil {
		return contract.Fragment{}, err
	}
	m := numberPat.FindStringSubmatch(branch)
	if m == nil {
		// 分支不含编号不算失败
		return contract.Fragment{}, nil
	}
	title, err := s.fetchTitle(ctx, m[1])
	if err != nil {
		return contract.Fragment{}, err
	}
	if title == "" {
		return contract.Fragment{}, nil
	}
	return contract.Fragment{Payload: contract.Payload{
		Items:  []string{fmt.Sprintf("#%s %s", m[1], title)},
		Fields: map[string]string{"number": m[1]},
	}}, nil
}

func (s *Source) fetchTitle(ctx context.Context, number string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%s", s.baseURL, s.repo, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", fmt.Errorf("issue: upstream %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("issue: decode: %w", contract.ErrResponseInvalid)
	}
	return body.Title, nil
}

var _ contract.FragmentSource = (*Source)(nil)
