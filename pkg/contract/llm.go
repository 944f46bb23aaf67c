package contract

import "context"

// Prompt: 完整渲染后的提示词字符串。生成后端不得再拼接上下文。
type Prompt string

// Raw: LLM 客户端返回的原始文本载荷。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
}

// LLMClient: 以 Prompt 为单位与大模型交互，返回原始文本 Raw。
// 单次调用、同步返回；实现仅差异于传输/鉴权，禁止格式化或上下文采集逻辑。
type LLMClient interface {
	Invoke(ctx context.Context, p Prompt) (Raw, error)
}

// LLMStreamer: 可选的增量接口。
type LLMStreamer interface {
	InvokeStream(ctx context.Context, p Prompt) (RawStream, error)
}

// RawStream: 只读顺序拉取；调用方负责在用毕后 Close。
// 终止信号：done=true 且 err=nil 为干净结束；err!=nil 为错误终止，
// 消费方据此区分“完整输出”与“被故障截断”。
type RawStream interface {
	Next() (chunk string, done bool, err error)
	Close() error
}
