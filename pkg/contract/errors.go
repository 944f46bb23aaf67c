package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrAuth            = errors.New("authentication failed")
	ErrQuota           = errors.New("quota exhausted")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
	// ErrTemplateNotFound: 模板解析失败（区别于渲染校验失败）。
	ErrTemplateNotFound = errors.New("template not found")
	// ErrNoDiff: Context 中无可用 diff 载荷（指纹/缓存旁路）。
	ErrNoDiff = errors.New("no diff payload")
)

// UpstreamError 承载 HTTP 上游错误的最小诊断信息。
// 实现方应提供状态码与简短消息，便于结构化日志与重试分类。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

// FailureClass: 生成失败的重试语义分类。
type FailureClass int

const (
	// Retryable: 在退避预算内继续尝试。
	Retryable FailureClass = iota
	// Terminal: 立即停止，不再触发任何尝试。
	Terminal
)

func (c FailureClass) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "terminal"
}

// GenerationError: 一次生成调用（含全部重试）的最终失败。
// Retryable 仅在内部驱动退避，从不以此分类上浮；上浮的必为 Terminal。
type GenerationError struct {
	Class    FailureClass
	Attempts int
	Err      error // 最后一次底层原因
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// RenderError: 渲染失败。Resolution=true 表示模板解析/缺失
// （触发内建模板回退）；Validation=true 表示严格模式下的校验
// Finding（唯一允许致命的渲染失败）；两者皆否为执行期失败。
type RenderError struct {
	Resolution bool
	Validation bool
	Template   string
	Err        error
}

func (e *RenderError) Error() string {
	if e.Resolution {
		return fmt.Sprintf("render: resolve template %q: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("render: template %q: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// CacheError: 缓存不可用。调用方按强制未命中处理，永不致命。
type CacheError struct {
	Op  string // lookup | insert | invalidate | open
	Err error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache %s: %v", e.Op, e.Err) }

func (e *CacheError) Unwrap() error { return e.Err }
