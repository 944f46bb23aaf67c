package contract

import "context"

// Cache: 指纹寻址的结果存储。
// 约束：
// 1) 并发安全：同库可被多个进程同时读写（同仓库的两个终端）；
// 2) Insert 按指纹至多一个赢家——并发落败的写为 no-op，而非错误；
// 3) Lookup 未命中不是错误（返回 nil, nil）；过期条目按未命中处理并即时删除；
// 4) 显式失效（分支/路径）优先于 TTL 过期。
type Cache interface {
	Lookup(ctx context.Context, fp Fingerprint) (*CacheEntry, error)
	Insert(ctx context.Context, e CacheEntry) error
	// InvalidateBranch 驱逐非当前分支下记录的条目。
	InvalidateBranch(ctx context.Context, current string) error
	// InvalidatePaths 驱逐路径标签与 touched 有交集的条目。
	// keep 指定的指纹豁免：同指纹意味着同输入，本次运行自身的
	// 条目不因路径触碰被驱逐。
	InvalidatePaths(ctx context.Context, touched []string, keep Fingerprint) error
	Close() error
}
