package adapter

import (
	"net/http"

	"fronix-gateway/models"
)

// 上游操作路径
const (
	OpChatCompletions  = "/chat/completions"
	OpImageGenerations = "/images/generations"
	OpImageEdits       = "/images/edits"
)

// ProviderAdapter 定义不同 LLM 提供商的适配接口
type ProviderAdapter interface {
	// EndpointURL 由 Provider 的基础地址和操作路径拼出完整 URL
	EndpointURL(baseURL, op string) (string, error)

	// BuildChatBody 构造上游聊天请求体
	BuildChatBody(req models.UpstreamChatRequest) ([]byte, error)

	// BaseHeaders 不含鉴权的基础请求头，鉴权由 Requester 按凭证池合并
	BaseHeaders(stream bool) http.Header
}
