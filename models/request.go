package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ChatRequest 客户端聊天请求 (POST /chat, POST /chat-public)
type ChatRequest struct {
	Model             string        `json:"model" binding:"required"`
	Messages          []ChatMessage `json:"messages" binding:"required,dive"`
	ChatID            string        `json:"chatId,omitempty"`
	ProModelsEnabled  bool          `json:"proModelsEnabled,omitempty"`
	BetaModelsEnabled bool          `json:"betaModelsEnabled,omitempty"`
}

// ChatMessage 聊天消息
// Content 可能是字符串，也可能是多模态数组 [{"type":"text"},{"type":"image_url"}]
type ChatMessage struct {
	Role         string        `json:"role" binding:"required,oneof=system user assistant function"`
	Content      interface{}   `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// FunctionCall 函数调用 (legacy OpenAI function calling)
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// FunctionDefinition 传给上游的函数声明
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UpstreamChatRequest 发往上游的 OpenAI 兼容请求体
type UpstreamChatRequest struct {
	Model        string               `json:"model"`
	Messages     []ChatMessage        `json:"messages"`
	Stream       bool                 `json:"stream"`
	MaxTokens    *int                 `json:"max_tokens,omitempty"`
	Functions    []FunctionDefinition `json:"functions,omitempty"`
	FunctionCall interface{}          `json:"function_call,omitempty"`
}

// ImageGenerationRequest 图片生成请求
type ImageGenerationRequest struct {
	Model          string `json:"model" binding:"required"`
	Prompt         string `json:"prompt" binding:"required"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	Style          string `json:"style,omitempty"`
	User           string `json:"user,omitempty"`
}

// ApplyDefaults 填充默认参数
func (r *ImageGenerationRequest) ApplyDefaults() {
	if r.N <= 0 {
		r.N = 1
	}
	if r.Size == "" {
		r.Size = "1024x1024"
	}
	if r.Quality == "" {
		r.Quality = "standard"
	}
	if r.ResponseFormat == "" {
		r.ResponseFormat = "url"
	}
	if r.Style == "" {
		r.Style = "vivid"
	}
}

// ImageData 单张图片
type ImageData struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ImageGenerationResponse 上游图片响应
type ImageGenerationResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// ImageResult 返回给客户端的图片结果
type ImageResult struct {
	Status  string      `json:"status"`
	Data    []ImageData `json:"data"`
	Model   string      `json:"model"`
	Prompt  string      `json:"prompt"`
	Created int64       `json:"created"`
}

// ImageUploadRequest 图片上传请求
type ImageUploadRequest struct {
	Image string `json:"image" binding:"required"`
}

// ErrorResponse 错误响应，客户端只看到通用信息
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Gateway   string `json:"gateway"`
	Timestamp int64  `json:"timestamp"`
}

// NewHealthResponse 创建健康检查响应
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "healthy",
		Gateway:   "Fronix AI Gateway",
		Timestamp: time.Now().Unix(),
	}
}

// MaskAPIKey 脱敏API Key
func MaskAPIKey(key string) string {
	if key == "" {
		return "***"
	}

	if len(key) <= 4 {
		return key[:1] + "***"
	}

	if len(key) <= 8 {
		return key[:2] + "***" + key[len(key)-2:]
	}

	return key[:3] + "***" + key[len(key)-4:]
}

// StringContent 从ChatMessage.Content提取字符串内容
// 支持普通字符串和多模态数组格式
func (m *ChatMessage) StringContent() string {
	if m.Content == nil {
		return ""
	}

	if str, ok := m.Content.(string); ok {
		return str
	}

	if arr, ok := m.Content.([]interface{}); ok {
		var result strings.Builder
		for _, item := range arr {
			itemMap, ok := item.(map[string]interface{})
			if !ok || itemMap["type"] != "text" {
				continue
			}
			if text, ok := itemMap["text"].(string); ok {
				if result.Len() > 0 {
					result.WriteString(" ")
				}
				result.WriteString(text)
			}
		}
		return result.String()
	}

	if jsonBytes, err := json.Marshal(m.Content); err == nil {
		return string(jsonBytes)
	}

	return ""
}

// ImageURLs 返回多模态消息中附带的图片地址
func (m *ChatMessage) ImageURLs() []string {
	arr, ok := m.Content.([]interface{})
	if !ok {
		return nil
	}
	var urls []string
	for _, item := range arr {
		itemMap, ok := item.(map[string]interface{})
		if !ok || itemMap["type"] != "image_url" {
			continue
		}
		if img, ok := itemMap["image_url"].(map[string]interface{}); ok {
			if u, ok := img["url"].(string); ok && u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}
