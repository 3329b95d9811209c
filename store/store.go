package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Open 根据数据库类型打开连接并自动迁移
// dbType: "sqlite" (默认), "postgres", "mysql"
func Open(dbType, dsn string, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		if dsn == "" {
			return nil, errors.New("DB_DSN is required for postgres")
		}
		dialector = postgres.Open(dsn)
	case "mysql":
		if dsn == "" {
			return nil, errors.New("DB_DSN is required for mysql")
		}
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		if dsn == "" {
			dsn = "fronix.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// GormStore 基于 gorm 的会话/消息/用户资料存储
// 每次写入都是独立操作，调用方不做回滚
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB 返回底层连接
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// EnsureProfile 获取用户资料，不存在时以 free 计划创建
func (s *GormStore) EnsureProfile(ctx context.Context, userID, email string) (*models.Profile, error) {
	profile := models.Profile{UserID: userID}
	err := s.db.WithContext(ctx).
		Where(models.Profile{UserID: userID}).
		Attrs(models.Profile{Email: email, Plan: models.PlanFree}).
		FirstOrCreate(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// SetPlan 更新用户计划
func (s *GormStore) SetPlan(ctx context.Context, userID, plan string) error {
	return s.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).Update("plan", plan).Error
}

// ListChats 按更新时间倒序列出用户的会话
func (s *GormStore) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at desc").Find(&chats).Error
	return chats, err
}

// CreateChat 新建会话，标题为空时使用默认标题
func (s *GormStore) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if title == "" {
		title = models.DefaultChatTitle
	}
	chat := models.Chat{UserID: userID, Title: title}
	if err := s.db.WithContext(ctx).Create(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChat 获取用户自己的会话
func (s *GormStore) GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// DeleteChat 删除会话及其消息
func (s *GormStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", chatID, userID).Delete(&models.Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error
	})
}

// ToggleStudyMode 切换学习模式，返回新值
func (s *GormStore) ToggleStudyMode(ctx context.Context, userID, chatID string) (bool, error) {
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return false, err
	}
	next := !chat.StudyMode
	err = s.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Update("study_mode", next).Error
	return next, err
}

// UpdateChatTitle 保存生成的标题
func (s *GormStore) UpdateChatTitle(ctx context.Context, userID, chatID, title string) error {
	return s.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{"title": title, "title_generated": true}).Error
}

// ListMessages 按时间顺序列出会话消息
func (s *GormStore) ListMessages(ctx context.Context, userID, chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Order("created_at asc").
		Find(&messages).Error
	return messages, err
}

// SaveMessage 写入消息并刷新会话的更新时间
func (s *GormStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ?", msg.ChatID).
		Update("updated_at", time.Now()).Error
}
