package core

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"fronix-gateway/config"

	"github.com/sirupsen/logrus"
)

var (
	ErrProviderNotFound = errors.New("provider not configured")
)

// Provider 上游 Provider 的运行时状态
type Provider struct {
	Name     string
	Endpoint string // base URL，不含 /chat/completions
	Pool     *CredentialPool
}

// PoolRegistry 按名称持有所有 Provider 及其凭证池
// 凭证池在进程启动时创建，之后只读共享
type PoolRegistry struct {
	logger *logrus.Logger

	mu        sync.RWMutex
	providers map[string]*Provider
}

// NewPoolRegistry 从配置构建凭证池
func NewPoolRegistry(providers map[string]config.ProviderConfig, logger *logrus.Logger) *PoolRegistry {
	r := &PoolRegistry{
		logger:    logger,
		providers: make(map[string]*Provider, len(providers)),
	}

	for name, pc := range providers {
		r.providers[name] = &Provider{
			Name:     name,
			Endpoint: strings.TrimRight(strings.TrimSpace(pc.Endpoint), "/"),
			Pool:     NewCredentialPool(name, pc.Keys, pc.Anonymous),
		}
		if pc.Endpoint == "" {
			logger.Warnf("Provider %s has no endpoint configured", name)
		} else if len(pc.Keys) == 0 && !pc.Anonymous {
			// 不在启动时报错，首次使用时返回 NoCredentialsError
			logger.Warnf("Provider %s has no credentials configured", name)
		}
	}

	logger.Infof("Loaded %d upstream providers", len(r.providers))
	return r
}

// Get 按名称获取 Provider
func (r *PoolRegistry) Get(name string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// Names 返回已排序的 Provider 名称
func (r *PoolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots 返回所有凭证池快照
func (r *PoolRegistry) Snapshots() []PoolSnapshot {
	names := r.Names()
	out := make([]PoolSnapshot, 0, len(names))
	for _, name := range names {
		p, err := r.Get(name)
		if err != nil {
			continue
		}
		out = append(out, p.Pool.Snapshot())
	}
	return out
}
