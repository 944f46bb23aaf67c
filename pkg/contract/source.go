package contract

import (
	"context"
	"fmt"
)

// FragmentSource: 上下文采集能力。
// 约束：
// 1) 单次调用、同步返回；尊重 ctx 取消/超时并及时释放资源；
// 2) 无跨调用状态，无内部并发；
// 3) 失败返回 error（由聚合器转为缺席标记），不得返回部分载荷。
type FragmentSource interface {
	Collect(ctx context.Context) (Fragment, error)
}

// SourceError: 单来源采集失败（隔离级，除 required 外永不致命）。
type SourceError struct {
	Source SourceName
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// AggregationError: required 来源缺席导致的致命聚合失败。
type AggregationError struct {
	Source SourceName
	Err    error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation: required source %s failed: %v", e.Source, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }
