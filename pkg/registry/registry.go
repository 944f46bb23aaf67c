package registry

import (
	"bytes"
	"encoding/json"

	"aicommit/pkg/contract"
	anth "aicommit/plugins/llmclient/anthropic"
	dsk "aicommit/plugins/llmclient/deepseek"
	flaky "aicommit/plugins/llmclient/flaky"
	local "aicommit/plugins/llmclient/local"
	mock "aicommit/plugins/llmclient/mock"
	oai "aicommit/plugins/llmclient/openai"
	sdiff "aicommit/plugins/source/diff"
	shist "aicommit/plugins/source/history"
	sissue "aicommit/plugins/source/issue"
	smcp "aicommit/plugins/source/mcp"
	sreadme "aicommit/plugins/source/readme"
	sstatic "aicommit/plugins/source/static"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewSource 工厂签名：接收原样 JSON Options。
type NewSource func(raw json.RawMessage) (contract.FragmentSource, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// Source 工厂注册表（显式、零反射）。
// 每个工厂先按选项结构严格校验，再交由插件自行解析。
var Source = map[string]NewSource{
	"diff": func(raw json.RawMessage) (contract.FragmentSource, error) {
		if err := strictUnmarshal(raw, &sdiff.Options{}); err != nil {
			return nil, err
		}
		return sdiff.New(raw)
	},
	"readme": func(raw json.RawMessage) (contract.FragmentSource, error) {
		if err := strictUnmarshal(raw, &sreadme.Options{}); err != nil {
			return nil, err
		}
		return sreadme.New(raw)
	},
	"history": func(raw json.RawMessage) (contract.FragmentSource, error) {
		if err := strictUnmarshal(raw, &shist.Options{}); err != nil {
			return nil, err
		}
		return shist.New(raw)
	},
	"issue": func(raw json.RawMessage) (contract.FragmentSource, error) {
		if err := strictUnmarshal(raw, &sissue.Options{}); err != nil {
			return nil, err
		}
		return sissue.New(raw)
	},
	"mcp": func(raw json.RawMessage) (contract.FragmentSource, error) {
		if err := strictUnmarshal(raw, &smcp.Options{}); err != nil {
			return nil, err
		}
		return smcp.New(raw)
	},
	"static": func(raw json.RawMessage) (contract.FragmentSource, error) {
		if err := strictUnmarshal(raw, &sstatic.Options{}); err != nil {
			return nil, err
		}
		return sstatic.New(raw)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &oai.Options{}); err != nil {
			return nil, err
		}
		return oai.New(raw)
	},
	"anthropic": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &anth.Options{}); err != nil {
			return nil, err
		}
		return anth.New(raw)
	},
	"deepseek": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &dsk.Options{}); err != nil {
			return nil, err
		}
		return dsk.New(raw)
	},
	"local": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &local.Options{}); err != nil {
			return nil, err
		}
		return local.New(raw)
	},
	"mock": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &mock.Options{}); err != nil {
			return nil, err
		}
		return mock.New(raw)
	},
	"flaky": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &flaky.Options{}); err != nil {
			return nil, err
		}
		return flaky.New(raw)
	},
}
