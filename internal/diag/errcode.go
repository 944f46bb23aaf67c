package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"aicommit/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeAuth      Code = "auth"
	CodeQuota     Code = "quota"
	CodeRender    Code = "render"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	// 鉴权/配额（终止级）
	if errors.Is(err, contract.ErrAuth) {
		return CodeAuth
	}
	if errors.Is(err, contract.ErrQuota) {
		return CodeQuota
	}
	// 限流
	if errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	// 协议/响应
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	// 渲染
	var re *contract.RenderError
	if errors.As(err, &re) || errors.Is(err, contract.ErrTemplateNotFound) {
		return CodeRender
	}
	// 不变量/输入
	if errors.Is(err, contract.ErrInvalidInput) || errors.Is(err, contract.ErrNoDiff) {
		return CodeInvariant
	}
	// I/O
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 网络（连接/超时/上游 5xx）
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
