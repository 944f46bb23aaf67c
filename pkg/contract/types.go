package contract

import "time"

// SourceName: 片段来源的逻辑名（配置中声明，运行期稳定）。
type SourceName string

// Payload: 单一来源产出的不透明载荷（万能容器）。
// 约束：聚合器不读取其内容；仅由 prompt/render 层按来源约定解释。
type Payload struct {
	// Text: 文本型载荷（diff、README 等）。
	Text string
	// Items: 列表型载荷（历史提交等）。
	Items []string
	// Fields: 结构化键值载荷（issue 标题/编号等）。
	Fields map[string]string
}

// Empty 判断载荷是否完全为空。
func (p Payload) Empty() bool {
	return p.Text == "" && len(p.Items) == 0 && len(p.Fields) == 0
}

// Fragment: 一次采集的原子结果。产出后不可变。
// 约束：OK=false 即缺席标记，此时 Payload 为零值、Err 非空；
// 绝不携带部分/损坏的载荷。
type Fragment struct {
	Source  SourceName
	Payload Payload
	OK      bool
	Err     string // OK=false 时的诊断描述
}

// RunMeta: 单次运行的元信息（聚合时一次性填充）。
type RunMeta struct {
	Branch    string
	RepoRoot  string
	Author    string
	Timestamp time.Time
}

// Context: 所有片段按配置顺序的合并结果 + 运行元信息。
// 不变量：每个配置来源恰好一个槽位；顺序为配置插入序而非完成序；
// 聚合完成后不可变（值语义，调用方不得修改切片）。
type Context struct {
	Fragments []Fragment
	Meta      RunMeta
}

// Fragment 按来源名查找槽位；未配置的来源返回 ok=false。
func (c Context) Fragment(name SourceName) (Fragment, bool) {
	for _, f := range c.Fragments {
		if f.Source == name {
			return f, true
		}
	}
	return Fragment{}, false
}

// SourceDiff: 约定的暂存 diff 来源名；指纹与缓存以该载荷为最小相关输入。
const SourceDiff SourceName = "diff"

// Diff 返回名为 "diff" 的片段文本；缺席或失败时返回空串。
func (c Context) Diff() string {
	f, ok := c.Fragment(SourceDiff)
	if !ok || !f.OK {
		return ""
	}
	return f.Payload.Text
}

// Fingerprint: 定长确定性摘要（64 位十六进制 SHA-256）。
type Fingerprint string

// CacheEntry: 指纹 → 已生成文本 的持久化条目。
// 生命周期：成功生成后写入；查找先于任何生成尝试；
// 仅由显式失效规则（TTL、分支、路径）驱逐，绝不被异指纹数据覆盖。
type CacheEntry struct {
	Fingerprint Fingerprint
	Text        string
	Branch      string
	Paths       []string
	CreatedAt   time.Time
}

// Finding: 渲染校验结论（不阻断输出，除非 strict）。
type Finding struct {
	Code   string // subject_too_long | forbidden_token | malformed_breaks
	Detail string
}

// RenderedMessage: 最终消息 + 校验结论。每次运行恰好产出一次，不再变更。
type RenderedMessage struct {
	Text     string
	Findings []Finding
}
