// Package aggregate 并发收集上下文片段并按声明顺序装配 Context。
//
// 失败隔离：可选来源失败只产生缺席标记；必选来源失败使整次
// 聚合失败并取消其余收集。
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aicommit/internal/diag"
	"aicommit/pkg/contract"
)

// SourceSlot 是一个已配置的来源槽位。
type SourceSlot struct {
	Name     contract.SourceName
	Required bool
	Timeout  time.Duration // <=0 不设单独超时
	Impl     contract.FragmentSource
}

// Run 并发执行所有槽位的收集。
// 约束：返回的 Fragments 顺序与 slots 一致，与完成顺序无关；
// 必选来源失败返回 *contract.AggregationError 且指明来源名。
func Run(ctx context.Context, slots []SourceSlot, meta contract.RunMeta, log *diag.Logger) (contract.Context, error) {
	frags := make([]contract.Fragment, len(slots))
	var mu sync.Mutex
	var fatal *contract.AggregationError

	g, gctx := errgroup.WithContext(ctx)
	for i, slot := range slots {
		g.Go(func() error {
			frags[i] = collectOne(gctx, slot, log)
			if slot.Required && !frags[i].OK {
				mu.Lock()
				if fatal == nil {
					fatal = &contract.AggregationError{
						Source: slot.Name,
						Err:    fmt.Errorf("required source failed: %s", frags[i].Err),
					}
				}
				mu.Unlock()
				// 返回错误以取消其余收集
				return fatal
			}
			return nil
		})
	}
	_ = g.Wait()
	if fatal != nil {
		return contract.Context{}, fatal
	}
	return contract.Context{Fragments: frags, Meta: meta}, nil
}

// collectOne 执行单个来源，所有失败折叠为缺席标记。
func collectOne(ctx context.Context, slot SourceSlot, log *diag.Logger) contract.Fragment {
	cctx := ctx
	if slot.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, slot.Timeout)
		defer cancel()
	}
	var tm *diag.Timer
	if log != nil {
		tm = log.StartWith("aggregate", "collect", string(slot.Name))
	}
	frag, err := slot.Impl.Collect(cctx)
	if err == nil && cctx.Err() != nil {
		err = cctx.Err()
	}
	if err != nil {
		serr := &contract.SourceError{Source: slot.Name, Err: err}
		code := diag.Classify(err)
		diag.IncOp("aggregate", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("aggregate", string(code))
		}
		if log != nil {
			log.Warn("aggregate", string(code), serr.Error(), string(slot.Name))
		}
		if t := diag.GetTerminal(); t != nil {
			t.SourceDone(string(slot.Name), false)
		}
		return contract.Fragment{Source: slot.Name, OK: false, Err: serr.Error()}
	}
	frag.Source = slot.Name
	frag.OK = true
	tm.Finish("collected", int64(len(frag.Payload.Text)+len(frag.Payload.Items)))
	diag.IncOp("aggregate", "finish", "success")
	if t := diag.GetTerminal(); t != nil {
		t.SourceDone(string(slot.Name), true)
	}
	return frag
}
