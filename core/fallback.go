package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"fronix-gateway/core/adapter"
	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// Candidate 一个候选上游端点
type Candidate struct {
	Name     string
	Endpoint string
	Model    string
	Pool     *CredentialPool // nil 表示无凭证直连
}

// StreamRequest 一次流式对话请求
type StreamRequest struct {
	RequestID string
	Decision  *RouteDecision
	Messages  []models.ChatMessage
}

// FallbackOrchestrator 主路径失败时依次尝试备用端点
// 仅在传输错误、凭证耗尽或 5xx 时兜底；明确的 4xx 拒绝直接返回
type FallbackOrchestrator struct {
	requester  *ResilientRequester
	relay      *StreamRelay
	adapter    adapter.ProviderAdapter
	functions  *FunctionRegistry
	alternates []string
	recorder   *AsyncUpstreamLogger
	metrics    *Metrics
	logger     *logrus.Logger
}

// NewFallbackOrchestrator 构造函数强制要求依赖注入
func NewFallbackOrchestrator(
	requester *ResilientRequester,
	relay *StreamRelay,
	ad adapter.ProviderAdapter,
	functions *FunctionRegistry,
	alternates []string,
	recorder *AsyncUpstreamLogger,
	metrics *Metrics,
	logger *logrus.Logger,
) *FallbackOrchestrator {
	return &FallbackOrchestrator{
		requester:  requester,
		relay:      relay,
		adapter:    ad,
		functions:  functions,
		alternates: alternates,
		recorder:   recorder,
		metrics:    metrics,
		logger:     logger,
	}
}

// Candidates 主路由 + 无凭证备用端点 (备用端点使用客户端请求的原始模型名)
func (o *FallbackOrchestrator) Candidates(decision *RouteDecision) []Candidate {
	candidates := make([]Candidate, 0, len(o.alternates)+1)

	primary := Candidate{
		Name:  decision.Provider,
		Model: decision.UpstreamModel,
		Pool:  decision.Pool,
	}
	if endpoint, err := o.adapter.EndpointURL(decision.Endpoint, adapter.OpChatCompletions); err == nil {
		primary.Endpoint = endpoint
	} else {
		o.logger.Warnf("Provider %s endpoint unusable: %v", decision.Provider, err)
	}
	candidates = append(candidates, primary)

	for i, alt := range o.alternates {
		endpoint, err := o.adapter.EndpointURL(alt, adapter.OpChatCompletions)
		if err != nil || endpoint == primary.Endpoint {
			continue
		}
		candidates = append(candidates, Candidate{
			Name:     fmt.Sprintf("fallback-%d", i+1),
			Endpoint: endpoint,
			Model:    decision.RequestedModel,
		})
	}
	return candidates
}

// Open 依次尝试候选端点，返回第一个可用的流
func (o *FallbackOrchestrator) Open(ctx context.Context, requestID string, candidates []Candidate, body []byte) (*http.Response, Candidate, error) {
	headers := o.adapter.BaseHeaders(true)
	var attempts []error

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, Candidate{}, err
		}

		start := time.Now()
		var resp *http.Response
		var err error

		if c.Endpoint == "" {
			err = &TransportError{Endpoint: c.Name, Err: errors.New("endpoint not configured")}
		} else {
			payload := body
			if i > 0 {
				// 备用端点使用各自的模型名
				if payload, err = sjson.SetBytes(body, "model", c.Model); err != nil {
					return nil, Candidate{}, err
				}
			}
			resp, err = o.requester.Execute(ctx, c.Endpoint, payload, headers, c.Pool)
		}

		o.record(requestID, c, i > 0, resp, err, time.Since(start))

		if err == nil {
			if i > 0 {
				o.metrics.IncFallback(c.Name, "success")
				o.logger.Infof("✅ Fallback %s served request %s", c.Name, requestID)
			}
			return resp, c, nil
		}

		attempts = append(attempts, fmt.Errorf("%s: %w", c.Name, err))
		if i == 0 && !IsFallbackEligible(err) {
			// 上游明确拒绝，换端点也无意义
			return nil, c, err
		}
		if i > 0 {
			o.metrics.IncFallback(c.Name, "failure")
		}
		o.logger.Warnf("⚠️ Candidate %s failed for request %s: %v", c.Name, requestID, err)
	}

	o.logger.Errorf("💀 Failed: All %d candidates exhausted for request %s", len(candidates), requestID)
	return nil, Candidate{}, &FallbackExhaustedError{Attempts: attempts}
}

// BuildBody 构造流式请求体，有可用函数时附带函数声明
func (o *FallbackOrchestrator) BuildBody(model string, messages []models.ChatMessage) ([]byte, error) {
	req := models.UpstreamChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if o.functions.Len() > 0 {
		req.Functions = o.functions.Definitions()
		req.FunctionCall = "auto"
	}
	return o.adapter.BuildChatBody(req)
}

// Stream 执行带兜底的流式请求并转发给客户端
// 未提交响应时的失败通过 RelayResult.Err 返回，由调用方以 JSON 响应；已提交时在流内发送错误帧
func (o *FallbackOrchestrator) Stream(ctx context.Context, sink *StreamSink, req StreamRequest) RelayResult {
	candidates := o.Candidates(req.Decision)

	body, err := o.BuildBody(req.Decision.UpstreamModel, req.Messages)
	if err != nil {
		return RelayResult{State: StateError, Err: err}
	}

	resp, chosen, err := o.Open(ctx, req.RequestID, candidates, body)
	if err != nil {
		if sink.Committed() {
			sink.WriteError(ClientMessage(err))
			sink.WriteDone()
		}
		return RelayResult{State: StateError, Err: err}
	}

	// 立即刷新响应头，防止客户端超时
	sink.Commit()

	relayReq := RelayRequest{
		RequestID: req.RequestID,
		Provider:  chosen.Name,
		Endpoint:  chosen.Endpoint,
		Model:     chosen.Model,
		Messages:  req.Messages,
	}
	if o.functions.Len() > 0 {
		// 续写从成功的候选开始，仍然保留其后的兜底
		remaining := candidates
		for i, c := range candidates {
			if c.Name == chosen.Name {
				remaining = candidates[i:]
				break
			}
		}
		relayReq.Continue = func(ctx context.Context, messages []models.ChatMessage) (io.ReadCloser, error) {
			body, err := o.BuildBody(remaining[0].Model, messages)
			if err != nil {
				return nil, err
			}
			resp, _, err := o.Open(ctx, req.RequestID, remaining, body)
			if err != nil {
				return nil, err
			}
			return resp.Body, nil
		}
	}

	return o.relay.Relay(ctx, sink, resp.Body, relayReq)
}

func (o *FallbackOrchestrator) record(requestID string, c Candidate, fallback bool, resp *http.Response, err error, d time.Duration) {
	entry := &models.UpstreamLog{
		RequestID: requestID,
		Provider:  c.Name,
		Model:     c.Model,
		Endpoint:  c.Endpoint,
		Attempts:  1,
		Duration:  d.Milliseconds(),
		Fallback:  fallback,
	}

	if resp != nil {
		entry.StatusCode = resp.StatusCode
	}
	if err != nil {
		entry.ErrorMsg = err.Error()
		var exhausted *CredentialsExhaustedError
		var upstream *UpstreamError
		switch {
		case errors.As(err, &exhausted):
			entry.StatusCode = http.StatusTooManyRequests
			entry.Attempts = exhausted.Attempts
		case errors.As(err, &upstream):
			entry.StatusCode = upstream.StatusCode
		}
		if o.relay != nil {
			o.relay.errorLog.Record(StreamErrorEntry{
				RequestID:  requestID,
				Endpoint:   c.Endpoint,
				Model:      c.Model,
				Provider:   c.Name,
				StatusCode: entry.StatusCode,
				Body:       upstreamBody(err),
				Err:        err,
			})
		}
	}

	o.recorder.Log(entry)
}

func upstreamBody(err error) string {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Body
	}
	return ""
}
