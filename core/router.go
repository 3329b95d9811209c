package core

import (
	"fmt"
	"sync"

	"fronix-gateway/config"
	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
)

// 路由档位
const (
	TierPro     = "pro"
	TierBeta    = "beta"
	TierDirect  = "direct"
	TierDefault = "default"
)

// RouteContext 路由所需的请求上下文
type RouteContext struct {
	UserID            string
	UserPlan          string
	ProModelsEnabled  bool
	BetaModelsEnabled bool
}

// RouteDecision 路由结果
type RouteDecision struct {
	Tier           string
	Provider       string
	Endpoint       string
	RequestedModel string
	UpstreamModel  string
	Pool           *CredentialPool
}

// routeRule 有序路由规则：match 命中后由 resolve 给出 Provider 与上游模型
type routeRule struct {
	tier    string
	match   func(t *config.RoutingTable, model string) bool
	resolve func(r *UpstreamRouter, t *config.RoutingTable, model string, rc RouteContext) (provider, upstream string, err error)
}

var routeRules = []routeRule{
	{
		tier: TierPro,
		match: func(t *config.RoutingTable, model string) bool {
			return t.Pro.HasModel(model)
		},
		resolve: resolvePro,
	},
	{
		tier: TierBeta,
		match: func(t *config.RoutingTable, model string) bool {
			_, ok := t.Beta.Lookup(model)
			return ok
		},
		resolve: func(_ *UpstreamRouter, t *config.RoutingTable, model string, rc RouteContext) (string, string, error) {
			if !rc.BetaModelsEnabled {
				return "", "", &ForbiddenError{Model: model, Reason: "Beta models are not enabled"}
			}
			upstream, _ := t.Beta.Lookup(model)
			return t.Beta.Provider, upstream, nil
		},
	},
	{
		tier: TierDirect,
		match: func(t *config.RoutingTable, model string) bool {
			for _, d := range t.Direct {
				if _, ok := d.Lookup(model); ok {
					return true
				}
			}
			return false
		},
		resolve: func(_ *UpstreamRouter, t *config.RoutingTable, model string, _ RouteContext) (string, string, error) {
			for _, d := range t.Direct {
				if upstream, ok := d.Lookup(model); ok {
					return d.Provider, upstream, nil
				}
			}
			return "", "", ErrNoProviderAvailable
		},
	},
	{
		tier: TierDefault,
		match: func(*config.RoutingTable, string) bool {
			return true
		},
		resolve: func(_ *UpstreamRouter, t *config.RoutingTable, model string, _ RouteContext) (string, string, error) {
			return t.Default.Provider, t.Default.Prefix + model, nil
		},
	},
}

func resolvePro(r *UpstreamRouter, t *config.RoutingTable, model string, rc RouteContext) (string, string, error) {
	if !rc.ProModelsEnabled {
		return "", "", &ForbiddenError{Model: model, Reason: "Pro models are not enabled"}
	}
	if rc.UserPlan != models.PlanPro {
		return "", "", &ForbiddenError{Model: model, Reason: "A Pro plan is required for this model"}
	}

	strategyName := "affinity"
	if _, pinned := t.Pro.Pinned[model]; pinned {
		strategyName = "pinned"
	}

	strategy, ok := r.strategies[strategyName]
	if !ok {
		return "", "", fmt.Errorf("strategy %s not registered", strategyName)
	}

	provider, err := strategy.Select(model, rc, t.Pro)
	if err != nil {
		return "", "", err
	}
	return provider, t.Pro.UpstreamModel(provider, model), nil
}

// UpstreamRouter 根据请求的模型和上下文选择上游
// 纯决策，不做任何 I/O；唯一的可变状态是分流记录
type UpstreamRouter struct {
	logger   *logrus.Logger
	registry *PoolRegistry
	metrics  *Metrics

	strategies map[string]SpreadStrategy

	mu    sync.RWMutex
	table *config.RoutingTable
}

// NewUpstreamRouter 构造函数强制要求依赖注入
func NewUpstreamRouter(
	table *config.RoutingTable,
	registry *PoolRegistry,
	affinity *AffinityTracker,
	metrics *Metrics,
	logger *logrus.Logger,
) *UpstreamRouter {
	r := &UpstreamRouter{
		logger:     logger,
		registry:   registry,
		metrics:    metrics,
		strategies: make(map[string]SpreadStrategy),
		table:      table,
	}

	// 注册默认策略
	r.RegisterStrategy(NewAffinityStrategy(affinity))
	r.RegisterStrategy(&PinnedStrategy{})

	return r
}

func (r *UpstreamRouter) RegisterStrategy(s SpreadStrategy) {
	r.strategies[s.Name()] = s
}

// RefreshTable 替换路由表 (热加载)
func (r *UpstreamRouter) RefreshTable(table *config.RoutingTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = table
	r.logger.Infof("Routing table reloaded: %d pro, %d beta, %d direct tiers",
		len(table.Pro.Models)+len(table.Pro.Pinned), len(table.Beta.Models), len(table.Direct))
}

// Table 返回当前路由表
func (r *UpstreamRouter) Table() *config.RoutingTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table
}

// Route 执行路由逻辑，按 pro -> beta -> direct -> default 顺序匹配第一条规则
func (r *UpstreamRouter) Route(model string, rc RouteContext) (*RouteDecision, error) {
	table := r.Table()

	for _, rule := range routeRules {
		if !rule.match(table, model) {
			continue
		}

		providerName, upstream, err := rule.resolve(r, table, model, rc)
		if err != nil {
			return nil, err
		}

		decision, err := r.decide(rule.tier, providerName, model, upstream)
		if err != nil {
			return nil, err
		}
		r.metrics.IncRoute(rule.tier, decision.Provider)
		return decision, nil
	}

	return nil, ErrNoProviderAvailable
}

// Targets 返回模型可能路由到的全部上游 (状态探测使用)
// 不做档位校验，也不经过分流策略，不会写入分流记录；pro 非固定模型同时返回 primary 和 secondary
func (r *UpstreamRouter) Targets(model string) ([]*RouteDecision, error) {
	table := r.Table()

	for _, rule := range routeRules {
		if !rule.match(table, model) {
			continue
		}

		if rule.tier != TierPro {
			providerName, upstream, err := rule.resolve(r, table, model, RouteContext{BetaModelsEnabled: true})
			if err != nil {
				return nil, err
			}
			decision, err := r.decide(rule.tier, providerName, model, upstream)
			if err != nil {
				return nil, err
			}
			return []*RouteDecision{decision}, nil
		}

		names := []string{table.Pro.Primary}
		if pinned, ok := table.Pro.Pinned[model]; ok {
			names = []string{pinned}
		} else if table.Pro.Secondary != "" && table.Pro.Secondary != table.Pro.Primary {
			names = append(names, table.Pro.Secondary)
		}

		targets := make([]*RouteDecision, 0, len(names))
		for _, name := range names {
			if name == "" {
				return nil, ErrNoProviderAvailable
			}
			decision, err := r.decide(TierPro, name, model, table.Pro.UpstreamModel(name, model))
			if err != nil {
				return nil, err
			}
			targets = append(targets, decision)
		}
		return targets, nil
	}

	return nil, ErrNoProviderAvailable
}

func (r *UpstreamRouter) decide(tier, providerName, model, upstream string) (*RouteDecision, error) {
	provider, err := r.registry.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("tier %s: %s: %w", tier, providerName, err)
	}
	return &RouteDecision{
		Tier:           tier,
		Provider:       provider.Name,
		Endpoint:       provider.Endpoint,
		RequestedModel: model,
		UpstreamModel:  upstream,
		Pool:           provider.Pool,
	}, nil
}

// RoutableModels 返回路由表中显式声明的模型 (状态探测使用)
func (r *UpstreamRouter) RoutableModels() []string {
	table := r.Table()

	seen := make(map[string]bool)
	var out []string
	add := func(m string) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}

	for _, m := range table.Pro.Models {
		add(m)
	}
	for m := range table.Pro.Pinned {
		add(m)
	}
	for m := range table.Beta.Models {
		add(m)
	}
	for _, d := range table.Direct {
		for m := range d.Models {
			add(m)
		}
	}
	return out
}
