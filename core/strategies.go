package core

import (
	"errors"

	"fronix-gateway/config"
)

var (
	ErrNoProviderAvailable = errors.New("no provider available for model")
)

// AffinityStrategy 冷却分流策略
// 同一用户在冷却窗口内连续请求时在两个等价 Provider 之间交替
type AffinityStrategy struct {
	tracker *AffinityTracker
}

func NewAffinityStrategy(tracker *AffinityTracker) *AffinityStrategy {
	return &AffinityStrategy{tracker: tracker}
}

func (s *AffinityStrategy) Name() string { return "affinity" }

func (s *AffinityStrategy) Select(_ string, rc RouteContext, tier config.ProTier) (string, error) {
	if tier.Primary == "" {
		return "", ErrNoProviderAvailable
	}
	if tier.Secondary == "" {
		return tier.Primary, nil
	}
	return s.tracker.Choose(rc.UserID, tier.Primary, tier.Secondary), nil
}

// PinnedStrategy 固定策略，模型总是路由到配置的单一 Provider，不参与分流
type PinnedStrategy struct{}

func (s *PinnedStrategy) Name() string { return "pinned" }

func (s *PinnedStrategy) Select(model string, _ RouteContext, tier config.ProTier) (string, error) {
	provider, ok := tier.Pinned[model]
	if !ok || provider == "" {
		return "", ErrNoProviderAvailable
	}
	return provider, nil
}
