package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fronix-gateway/core/adapter"
	"fronix-gateway/models"

	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	statusBatchSize  = 5
	statusBatchDelay = 2 * time.Second
	statusCacheTTL   = 10 * time.Minute
	statusProbeLimit = 15 * time.Second
)

// ModelStatus 单个模型的探测结果
// 有多个上游时 (pro 分流)，任一可用即 Available，部分可用时 Status 为 degraded
type ModelStatus struct {
	Available bool                     `json:"available"`
	Status    string                   `json:"status"`
	LatencyMs int64                    `json:"latency_ms"`
	CheckedAt time.Time                `json:"checked_at"`
	Providers map[string]ProviderProbe `json:"providers,omitempty"`
}

// ProviderProbe 单个上游的探测结果
type ProviderProbe struct {
	Available bool   `json:"available"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
}

// ModelStatusReport /model-status 响应
type ModelStatusReport struct {
	Models  map[string]ModelStatus `json:"models"`
	LastRun *time.Time             `json:"last_run"`
}

// ModelStatusPoller 定时探测所有可路由模型的可用性
type ModelStatusPoller struct {
	router    *UpstreamRouter
	requester *ResilientRequester
	adapter   adapter.ProviderAdapter
	logger    *logrus.Logger

	cache      *cache.Cache
	cron       *cron.Cron
	batchDelay time.Duration

	mu      sync.Mutex
	lastRun time.Time
	running bool
}

func NewModelStatusPoller(router *UpstreamRouter, requester *ResilientRequester, ad adapter.ProviderAdapter, logger *logrus.Logger) *ModelStatusPoller {
	return &ModelStatusPoller{
		router:     router,
		requester:  requester,
		adapter:    ad,
		logger:     logger,
		cache:      cache.New(statusCacheTTL, statusCacheTTL),
		cron:       cron.New(),
		batchDelay: statusBatchDelay,
	}
}

// Start 按 cron 表达式调度探测，并立即在后台跑一次
func (p *ModelStatusPoller) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		p.logger.Info("Model status schedule not configured, skipping poller")
		return nil
	}

	if _, err := p.cron.AddFunc(schedule, func() { p.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid model status schedule %q: %w", schedule, err)
	}
	p.cron.Start()
	p.logger.Infof("Model status poller started (%s)", schedule)

	go p.RunOnce(ctx)
	go func() {
		<-ctx.Done()
		stopCtx := p.cron.Stop()
		<-stopCtx.Done()
	}()
	return nil
}

// RunOnce 分批探测，批次之间等待，避免瞬时打满上游；上一轮未结束时跳过
func (p *ModelStatusPoller) RunOnce(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.lastRun = time.Now()
		p.mu.Unlock()
	}()

	ids := p.router.RoutableModels()
	for start := 0; start < len(ids); start += statusBatchSize {
		end := start + statusBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				p.cache.Set(id, p.probe(ctx, id), cache.DefaultExpiration)
			}(id)
		}
		wg.Wait()

		if end < len(ids) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.batchDelay):
			}
		}
	}
	p.logger.Infof("Model status check finished for %d models", len(ids))
}

// probe 逐个探测模型可能路由到的上游，不经过分流记录
func (p *ModelStatusPoller) probe(ctx context.Context, id string) ModelStatus {
	status := ModelStatus{CheckedAt: time.Now()}

	targets, err := p.router.Targets(id)
	if err != nil {
		status.Status = "unroutable"
		return status
	}

	status.Providers = make(map[string]ProviderProbe, len(targets))
	up := 0
	for _, target := range targets {
		result := p.probeTarget(ctx, target)
		status.Providers[target.Provider] = result
		if !result.Available {
			continue
		}
		if up == 0 || result.LatencyMs < status.LatencyMs {
			status.LatencyMs = result.LatencyMs
		}
		up++
	}

	switch {
	case up == len(targets):
		status.Available = true
		status.Status = "ok"
	case up > 0:
		status.Available = true
		status.Status = "degraded"
	default:
		first := status.Providers[targets[0].Provider]
		status.Status = first.Status
		status.LatencyMs = first.LatencyMs
	}
	return status
}

// probeTarget 发送最小的非流式请求
func (p *ModelStatusPoller) probeTarget(ctx context.Context, decision *RouteDecision) ProviderProbe {
	var result ProviderProbe

	endpoint, err := p.adapter.EndpointURL(decision.Endpoint, adapter.OpChatCompletions)
	if err != nil {
		result.Status = "not_configured"
		return result
	}

	maxTokens := 1
	body, err := p.adapter.BuildChatBody(models.UpstreamChatRequest{
		Model:     decision.UpstreamModel,
		Messages:  []models.ChatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		result.Status = "error"
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, statusProbeLimit)
	defer cancel()

	start := time.Now()
	resp, err := p.requester.Execute(probeCtx, endpoint, body, p.adapter.BaseHeaders(false), decision.Pool)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Status = fmt.Sprintf("%d", StatusForError(err))
		return result
	}
	resp.Body.Close()

	result.Available = true
	result.Status = "ok"
	return result
}

// Report 返回缓存中的探测结果
func (p *ModelStatusPoller) Report() ModelStatusReport {
	report := ModelStatusReport{Models: make(map[string]ModelStatus)}
	for id, item := range p.cache.Items() {
		report.Models[id] = item.Object.(ModelStatus)
	}

	p.mu.Lock()
	if !p.lastRun.IsZero() {
		last := p.lastRun
		report.LastRun = &last
	}
	p.mu.Unlock()
	return report
}
