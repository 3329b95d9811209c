package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"fronix-gateway/models"
)

const userAgent = "Fronix-Gateway/1.0"

// OpenAIAdapter OpenAI 兼容协议（透传模式）
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{}
}

// EndpointURL 仅当基础地址看起来是根路径或 /v1 时才自动追加操作路径
// 已经是完整端点 (如 /openai、/chat/completions) 的地址保持不变，图片操作会替换掉 /chat/completions
func (a *OpenAIAdapter) EndpointURL(baseURL, op string) (string, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "", fmt.Errorf("empty upstream url")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid upstream url: %s", baseURL)
	}

	path := u.Path
	switch {
	case strings.Contains(path, OpChatCompletions):
		if op != OpChatCompletions {
			u.Path = strings.Replace(path, OpChatCompletions, op, 1)
		}
	case strings.Contains(path, "/images/"),
		strings.Contains(path, "/audio/"),
		strings.Contains(path, "/embeddings"):
		// 用户指定的具体端点，完全信任
	case path == "" || path == "/" || strings.HasSuffix(path, "/v1") || strings.HasSuffix(path, "/v1/"):
		u.Path = strings.TrimSuffix(path, "/") + op
	default:
		if op != OpChatCompletions {
			u.Path = strings.TrimSuffix(path, "/") + op
		}
	}

	return u.String(), nil
}

// BuildChatBody 序列化请求
// [Sanitization] 空的函数列表必须为 nil，否则部分上游会拒绝 "functions": []
func (a *OpenAIAdapter) BuildChatBody(req models.UpstreamChatRequest) ([]byte, error) {
	if len(req.Functions) == 0 {
		req.Functions = nil
		req.FunctionCall = nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, nil
}

func (a *OpenAIAdapter) BaseHeaders(stream bool) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)
	if stream {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	return h
}
