package core

import (
	"context"

	"fronix-gateway/config"
	"fronix-gateway/models"
)

// SpreadStrategy 定义 pro 档位的 Provider 选择策略
// 输入请求的模型和上下文，输出被选中的 Provider 名称
type SpreadStrategy interface {
	// Name 返回策略名称，如 "affinity", "pinned"
	Name() string

	// Select 执行选择逻辑
	Select(model string, rc RouteContext, tier config.ProTier) (string, error)
}

// FunctionHandler 流式对话中可被模型调用的函数
type FunctionHandler interface {
	Definition() models.FunctionDefinition

	// Execute 执行函数，arguments 为模型给出的 JSON 字符串
	// 返回值会被序列化后作为 function 消息回填到对话中
	Execute(ctx context.Context, arguments string) (interface{}, error)
}

// ChatStore 标题生成所需的数据存储能力
type ChatStore interface {
	GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error)
	ListMessages(ctx context.Context, userID, chatID string) ([]models.Message, error)
	UpdateChatTitle(ctx context.Context, userID, chatID, title string) error
}
