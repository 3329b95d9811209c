package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultChatTitle 新建会话的默认标题，标题生成器据此判断是否需要生成
	DefaultChatTitle = "New Chat"

	PlanFree = "free"
	PlanPro  = "pro"
)

// Profile 用户资料，Plan 决定是否允许 pro 模型
type Profile struct {
	UserID    string    `gorm:"primaryKey" json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	Plan      string    `gorm:"default:free" json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chat 会话
type Chat struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	Title          string    `gorm:"default:New Chat" json:"title"`
	TitleGenerated bool      `gorm:"default:false" json:"title_generated"`
	StudyMode      bool      `gorm:"default:false" json:"study_mode"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate 生成 UUID 主键
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Message 会话消息
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ChatID    string    `gorm:"index;not null" json:"chat_id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Role      string    `gorm:"not null" json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate 生成 UUID 主键
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// UpstreamLog 单次上游调用记录 (异步批量写入)
type UpstreamLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	RequestID  string    `gorm:"index" json:"request_id"`
	Provider   string    `gorm:"index" json:"provider"`
	Model      string    `json:"model"`
	Endpoint   string    `json:"endpoint"`
	StatusCode int       `json:"status_code"`
	Attempts   int       `json:"attempts"`
	Duration   int64     `json:"duration_ms"`
	Fallback   bool      `json:"fallback"`
	ErrorMsg   string    `json:"error_msg,omitempty"`
}

// ProviderStats 按 Provider 聚合的统计
type ProviderStats struct {
	gorm.Model
	Provider      string  `gorm:"uniqueIndex;not null" json:"provider"`
	Success       int     `gorm:"default:0" json:"success"`
	Error         int     `gorm:"default:0" json:"error"`
	RateLimited   int     `gorm:"default:0" json:"rate_limited"`
	Fallbacks     int     `gorm:"default:0" json:"fallbacks"`
	TotalLatency  float64 `gorm:"default:0" json:"total_latency"` // 毫秒
	TotalRequests int64   `gorm:"default:0" json:"total_requests"`
}

// AvgLatency 平均延迟 (毫秒)
func (s ProviderStats) AvgLatency() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return s.TotalLatency / float64(s.TotalRequests)
}

// AutoMigrate 自动迁移数据库结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Profile{},
		&Chat{},
		&Message{},
		&UpstreamLog{},
		&ProviderStats{},
	)
}
