package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrFunctionDepthExceeded 函数调用续写超过最大深度
	ErrFunctionDepthExceeded = errors.New("function call depth exceeded")
	// ErrStreamTimeout 整个请求超过墙钟超时
	ErrStreamTimeout = errors.New("stream timeout")
)

// ForbiddenError 档位不允许 (plan / feature flag)
type ForbiddenError struct {
	Model  string
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("model %s not permitted: %s", e.Model, e.Reason)
}

// NoCredentialsError 需要鉴权的 Provider 没有配置任何凭证
type NoCredentialsError struct {
	Pool string
}

func (e *NoCredentialsError) Error() string {
	return fmt.Sprintf("no credentials configured for provider %s", e.Pool)
}

// CredentialsExhaustedError 所有凭证都被限流
type CredentialsExhaustedError struct {
	Pool     string
	Attempts int
	Last     error
}

func (e *CredentialsExhaustedError) Error() string {
	return fmt.Sprintf("all credentials exhausted for provider %s after %d attempts: %v", e.Pool, e.Attempts, e.Last)
}

func (e *CredentialsExhaustedError) Unwrap() error { return e.Last }

// UpstreamError 上游返回非 2xx
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d %s: %s", e.StatusCode, getHTTPStatusText(e.StatusCode), e.Body)
}

// TransportError 连接失败、DNS 错误、连接重置
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FunctionError 函数调用执行失败
type FunctionError struct {
	Name string
	Err  error
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %s failed: %v", e.Name, e.Err)
}

func (e *FunctionError) Unwrap() error { return e.Err }

// FallbackExhaustedError 所有候选端点均失败
type FallbackExhaustedError struct {
	Attempts []error
}

func (e *FallbackExhaustedError) Error() string {
	return fmt.Sprintf("all %d upstream candidates failed: %v", len(e.Attempts), errors.Join(e.Attempts...))
}

func (e *FallbackExhaustedError) Unwrap() []error { return e.Attempts }

// IsFallbackEligible 判断错误是否应触发兜底：传输错误、凭证耗尽、5xx
// 明确的 4xx 拒绝不触发
func IsFallbackEligible(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var exhaustedErr *CredentialsExhaustedError
	if errors.As(err, &exhaustedErr) {
		return true
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode >= 500
	}
	return false
}

// StatusForError 将错误映射为 HTTP 状态码
func StatusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var forbiddenErr *ForbiddenError
	if errors.As(err, &forbiddenErr) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrStreamTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var fallbackErr *FallbackExhaustedError
	if errors.As(err, &fallbackErr) {
		return http.StatusServiceUnavailable
	}
	var exhaustedErr *CredentialsExhaustedError
	if errors.As(err, &exhaustedErr) {
		return http.StatusTooManyRequests
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return http.StatusServiceUnavailable
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		if upstreamErr.StatusCode >= 400 && upstreamErr.StatusCode < 500 {
			return upstreamErr.StatusCode
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ClientMessage 返回给客户端的通用错误信息，不泄露内部细节
func ClientMessage(err error) string {
	var forbiddenErr *ForbiddenError
	if errors.As(err, &forbiddenErr) {
		return forbiddenErr.Reason
	}

	switch status := StatusForError(err); {
	case status == http.StatusGatewayTimeout:
		return "Request timed out. Please try again."
	case status == http.StatusTooManyRequests:
		return "Rate limit exceeded. Please try again later."
	case status == http.StatusServiceUnavailable:
		return "AI service is temporarily unavailable. Please try again later."
	case status == http.StatusUnauthorized:
		return "Authentication failed with AI service."
	case status == http.StatusBadRequest:
		return "Invalid request format for AI service."
	case status >= 400 && status < 500, status == http.StatusBadGateway:
		return "An error occurred while contacting the AI service."
	default:
		return "Internal server error occurred while contacting the AI service."
	}
}

// getHTTPStatusText 获取HTTP状态码的描述文本
func getHTTPStatusText(statusCode int) string {
	if text := http.StatusText(statusCode); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}
