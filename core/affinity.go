package core

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// AffinityRecord 用户最近一次 pro 请求使用的 Provider
type AffinityRecord struct {
	Provider string
	At       time.Time
}

// AffinityTracker 基于冷却时间的用户级分流记录
// 记录存放在 TTL 缓存中，过期自动清理
type AffinityTracker struct {
	cache    *cache.Cache
	cooldown time.Duration
	now      func() time.Time
}

// NewAffinityTracker 创建分流记录器，缓存 TTL 为冷却时间的两倍
func NewAffinityTracker(cooldown time.Duration) *AffinityTracker {
	return &AffinityTracker{
		cache:    cache.New(2*cooldown, cooldown),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// WithClock 注入时钟 (测试用)
func (t *AffinityTracker) WithClock(now func() time.Time) *AffinityTracker {
	t.now = now
	return t
}

// Choose 选择本次的 Provider 并记录
// 上一次是 primary 且仍在冷却窗口内时切到 secondary，其余情况回到 primary
func (t *AffinityTracker) Choose(userID, primary, secondary string) string {
	now := t.now()
	choice := primary

	if v, found := t.cache.Get(userID); found {
		rec := v.(AffinityRecord)
		if rec.Provider == primary && now.Sub(rec.At) < t.cooldown {
			choice = secondary
		}
	}

	t.cache.Set(userID, AffinityRecord{Provider: choice, At: now}, cache.DefaultExpiration)
	return choice
}

// Last 返回用户的最近记录
func (t *AffinityTracker) Last(userID string) (AffinityRecord, bool) {
	v, found := t.cache.Get(userID)
	if !found {
		return AffinityRecord{}, false
	}
	return v.(AffinityRecord), true
}

// Count 当前有效记录数
func (t *AffinityTracker) Count() int {
	return t.cache.ItemCount()
}
