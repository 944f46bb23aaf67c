package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"aicommit/pkg/contract"
)

type fakeSource struct {
	text  string
	err   error
	delay time.Duration
}

func (f *fakeSource) Collect(ctx context.Context) (contract.Fragment, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return contract.Fragment{}, ctx.Err()
		}
	}
	if f.err != nil {
		return contract.Fragment{}, f.err
	}
	return contract.Fragment{Payload: contract.Payload{Text: f.text}}, nil
}

// UT-AGG-01: 可选来源失败只产生缺席标记，不影响其余片段。
func TestOptionalFailureIsolated(t *testing.T) {
	slots := []SourceSlot{
		{Name: "diff", Required: true, Impl: &fakeSource{text: "d"}},
		{Name: "readme", Impl: &fakeSource{err: errors.New("boom")}},
		{Name: "history", Impl: &fakeSource{text: "h"}},
	}
	c, err := Run(context.Background(), slots, contract.RunMeta{Branch: "main"}, nil)
	if err != nil {
		t.Fatalf("聚合不应失败: %v", err)
	}
	if len(c.Fragments) != 3 {
		t.Fatalf("期望 3 个片段，得到 %d", len(c.Fragments))
	}
	if !c.Fragments[0].OK || c.Fragments[1].OK || !c.Fragments[2].OK {
		t.Fatalf("OK 标记不符: %+v", c.Fragments)
	}
	if c.Fragments[1].Err == "" {
		t.Fatalf("缺席标记应携带失败原因")
	}
}

// UT-AGG-05: 缺席标记的失败原因以 SourceError 形式指明来源。
func TestAbsenceMarkerNamesSource(t *testing.T) {
	slots := []SourceSlot{
		{Name: "readme", Impl: &fakeSource{err: errors.New("boom")}},
	}
	c, err := Run(context.Background(), slots, contract.RunMeta{}, nil)
	if err != nil {
		t.Fatalf("聚合不应失败: %v", err)
	}
	want := (&contract.SourceError{Source: "readme", Err: errors.New("boom")}).Error()
	if c.Fragments[0].Err != want {
		t.Fatalf("缺席原因应指明来源: %q", c.Fragments[0].Err)
	}
}

// UT-AGG-02: 必选来源失败整次失败，错误指明来源名。
func TestRequiredFailureFatal(t *testing.T) {
	slots := []SourceSlot{
		{Name: "diff", Required: true, Impl: &fakeSource{err: errors.New("no repo")}},
		{Name: "readme", Impl: &fakeSource{text: "r"}},
	}
	_, err := Run(context.Background(), slots, contract.RunMeta{}, nil)
	var ae *contract.AggregationError
	if !errors.As(err, &ae) {
		t.Fatalf("期望 *AggregationError，得到 %v", err)
	}
	if ae.Source != "diff" {
		t.Fatalf("应指明失败来源，得到 %q", ae.Source)
	}
}

// UT-AGG-03: 片段顺序与槽位声明顺序一致，与完成顺序无关。
func TestDeterministicOrder(t *testing.T) {
	slots := []SourceSlot{
		{Name: "slow", Impl: &fakeSource{text: "s", delay: 40 * time.Millisecond}},
		{Name: "fast", Impl: &fakeSource{text: "f"}},
	}
	c, err := Run(context.Background(), slots, contract.RunMeta{}, nil)
	if err != nil {
		t.Fatalf("聚合失败: %v", err)
	}
	if c.Fragments[0].Source != "slow" || c.Fragments[1].Source != "fast" {
		t.Fatalf("顺序应与声明一致: %+v", c.Fragments)
	}
}

// UT-AGG-04: 超时的可选来源按失败处理。
func TestPerSourceTimeout(t *testing.T) {
	slots := []SourceSlot{
		{Name: "diff", Required: true, Impl: &fakeSource{text: "d"}},
		{Name: "issue", Timeout: 20 * time.Millisecond, Impl: &fakeSource{text: "i", delay: 200 * time.Millisecond}},
	}
	c, err := Run(context.Background(), slots, contract.RunMeta{}, nil)
	if err != nil {
		t.Fatalf("聚合不应失败: %v", err)
	}
	if c.Fragments[1].OK {
		t.Fatalf("超时来源应为缺席标记")
	}
}
