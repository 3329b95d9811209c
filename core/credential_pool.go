package core

import (
	"sync"

	"fronix-gateway/models"
)

// CredentialState 单个凭证的运行时统计
type CredentialState struct {
	RateLimited int64
	Successes   int64
}

// CredentialPool 某个上游 Provider 的有序凭证池
// cursor 为进程级共享状态，所有使用同一 Provider 的并发请求共用
// 单个操作有锁保护，但 "取凭证 -> 请求 -> 轮换" 这一序列不是原子的，并发限流时轮换可能交错
type CredentialPool struct {
	name      string
	keys      []string
	anonymous bool

	mutex     sync.RWMutex
	cursor    int
	rotations int64
	states    map[string]*CredentialState
}

// NewCredentialPool 创建凭证池，keys 在创建后不可变
func NewCredentialPool(name string, keys []string, anonymous bool) *CredentialPool {
	copied := make([]string, len(keys))
	copy(copied, keys)

	states := make(map[string]*CredentialState, len(copied))
	for _, k := range copied {
		states[k] = &CredentialState{}
	}

	return &CredentialPool{
		name:      name,
		keys:      copied,
		anonymous: anonymous,
		states:    states,
	}
}

// Name 返回 Provider 名称
func (p *CredentialPool) Name() string {
	return p.name
}

// Size 返回凭证数量
func (p *CredentialPool) Size() int {
	return len(p.keys)
}

// Anonymous 是否允许无凭证访问
func (p *CredentialPool) Anonymous() bool {
	return p.anonymous
}

// Cursor 返回当前游标
func (p *CredentialPool) Cursor() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.cursor
}

// Current 返回游标处的凭证
// 空池：匿名 Provider 返回 ""，否则返回 NoCredentialsError
func (p *CredentialPool) Current() (string, error) {
	if len(p.keys) == 0 {
		if p.anonymous {
			return "", nil
		}
		return "", &NoCredentialsError{Pool: p.name}
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.keys[p.cursor], nil
}

// Rotate 推进到下一个凭证，凭证数 <= 1 时不修改状态并返回 false
func (p *CredentialPool) Rotate() bool {
	if len(p.keys) <= 1 {
		return false
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cursor = (p.cursor + 1) % len(p.keys)
	p.rotations++
	return true
}

// ResetToFirst 游标归零 (幂等)
func (p *CredentialPool) ResetToFirst() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cursor = 0
}

// MarkRateLimited 记录凭证被限流
func (p *CredentialPool) MarkRateLimited(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if s, ok := p.states[key]; ok {
		s.RateLimited++
	}
}

// MarkSuccess 记录凭证请求成功
func (p *CredentialPool) MarkSuccess(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if s, ok := p.states[key]; ok {
		s.Successes++
	}
}

// PoolSnapshot 凭证池快照 (凭证已脱敏)
type PoolSnapshot struct {
	Name        string            `json:"name"`
	Size        int               `json:"size"`
	Cursor      int               `json:"cursor"`
	Anonymous   bool              `json:"anonymous"`
	Rotations   int64             `json:"rotations"`
	Credentials []CredentialUsage `json:"credentials"`
}

// CredentialUsage 单个凭证的使用情况
type CredentialUsage struct {
	Key         string `json:"key"`
	RateLimited int64  `json:"rate_limited"`
	Successes   int64  `json:"successes"`
}

// Snapshot 返回凭证池快照
func (p *CredentialPool) Snapshot() PoolSnapshot {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	usage := make([]CredentialUsage, 0, len(p.keys))
	for _, k := range p.keys {
		s := p.states[k]
		usage = append(usage, CredentialUsage{
			Key:         models.MaskAPIKey(k),
			RateLimited: s.RateLimited,
			Successes:   s.Successes,
		})
	}

	return PoolSnapshot{
		Name:        p.name,
		Size:        len(p.keys),
		Cursor:      p.cursor,
		Anonymous:   p.anonymous,
		Rotations:   p.rotations,
		Credentials: usage,
	}
}
