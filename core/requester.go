package core

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
)

// maxErrorBodyLen 错误响应体截断长度
const maxErrorBodyLen = 2000

// ResilientRequester 带凭证轮换的上游请求原语
// 只有 429 会触发轮换重试，其他错误立即返回
type ResilientRequester struct {
	client  *http.Client
	metrics *Metrics
	logger  *logrus.Logger
}

// NewResilientRequester 创建请求器
func NewResilientRequester(client *http.Client, metrics *Metrics, logger *logrus.Logger) *ResilientRequester {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &ResilientRequester{
		client:  client,
		metrics: metrics,
		logger:  logger,
	}
}

// Execute 向 endpoint 发送 POST 请求
// 最多尝试 max(1, pool.Size()) 次；pool 为 nil 时按匿名单次请求处理
// base 中的请求头保留，Authorization 由凭证池注入
// 成功时调用方负责关闭 resp.Body
func (q *ResilientRequester) Execute(ctx context.Context, endpoint string, body []byte, base http.Header, pool *CredentialPool) (*http.Response, error) {
	providerName := "direct"
	maxAttempts := 1
	if pool != nil {
		providerName = pool.Name()
		if pool.Size() > 1 {
			maxAttempts = pool.Size()
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		key := ""
		if pool != nil {
			k, err := pool.Current()
			if err != nil {
				q.logger.Errorf("💀 Provider %s: %v", providerName, err)
				return nil, err
			}
			key = k
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, &TransportError{Endpoint: endpoint, Err: err}
		}
		for k, v := range base {
			req.Header[k] = append([]string(nil), v...)
		}
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		q.logger.Debugf("🎯 Attempt %d/%d: [%s] (Key: %s) -> %s",
			attempt+1, maxAttempts, providerName, models.MaskAPIKey(key), endpoint)

		start := time.Now()
		resp, err := q.client.Do(req)
		latency := time.Since(start)

		if err != nil {
			q.metrics.ObserveUpstream(providerName, 0, latency)
			q.logger.Warnf("⚠️ Attempt %d Failed: Network error - %v", attempt+1, err)
			return nil, &TransportError{Endpoint: endpoint, Err: err}
		}
		q.metrics.ObserveUpstream(providerName, resp.StatusCode, latency)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if pool != nil {
				// 轮换后成功，下一次从已知可用的第一个凭证开始
				if attempt > 0 {
					pool.ResetToFirst()
				}
				pool.MarkSuccess(key)
			}
			q.logger.Debugf("✅ Success: [%s] | Status: %d | Latency: %dms", providerName, resp.StatusCode, latency.Milliseconds())
			return resp, nil
		}

		errBody := readErrorBody(resp)
		upstreamErr := &UpstreamError{StatusCode: resp.StatusCode, Body: errBody}

		if resp.StatusCode != http.StatusTooManyRequests {
			q.logger.Warnf("❌ Attempt %d Failed: %d %s - not retryable", attempt+1, resp.StatusCode, getHTTPStatusText(resp.StatusCode))
			return nil, upstreamErr
		}

		lastErr = upstreamErr
		if pool != nil {
			pool.MarkRateLimited(key)
		}
		if pool == nil || !pool.Rotate() {
			q.logger.Warnf("⚠️ Attempt %d Failed: 429 on %s, no credential to rotate to", attempt+1, providerName)
			return nil, &CredentialsExhaustedError{Pool: providerName, Attempts: attempt + 1, Last: lastErr}
		}
		q.metrics.IncRotation(providerName)
		q.logger.Infof("🔄 Rate limited on %s, rotating to key %d/%d", providerName, pool.Cursor()+1, pool.Size())
	}

	q.logger.Errorf("💀 Failed: All %d credentials of %s rate limited", maxAttempts, providerName)
	return nil, &CredentialsExhaustedError{Pool: providerName, Attempts: maxAttempts, Last: lastErr}
}

// readErrorBody 读取并关闭错误响应体，截断到 maxErrorBodyLen
func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	return string(data)
}
