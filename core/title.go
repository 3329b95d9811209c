package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"fronix-gateway/core/adapter"
	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const titlePrompt = `You are a chat title generator. Your job is to create a short, factual title that captures the main topic of the conversation.

Rules:
- Summarize the conversation in 3 words or fewer.
- Only include the main topic.
- Ignore greetings, small talk, filler text, and emotional tone.
- Be concise and specific, including the most important keywords.
- Do not include pronouns like "you", "I", "we", or vague phrases like "venting" or "chatting".
- Output only the title, nothing else.

---

`

var trivialMessage = regexp.MustCompile(`(?i)^\s*(hi|hello|yo)\s*[!.?]*\s*$`)

// TitleGenerator 会话标题生成 (尽力而为，失败只记录日志)
type TitleGenerator struct {
	router    *UpstreamRouter
	requester *ResilientRequester
	adapter   adapter.ProviderAdapter
	store     ChatStore
	logger    *logrus.Logger
	timeout   time.Duration
}

func NewTitleGenerator(router *UpstreamRouter, requester *ResilientRequester, ad adapter.ProviderAdapter, store ChatStore, logger *logrus.Logger) *TitleGenerator {
	return &TitleGenerator{
		router:    router,
		requester: requester,
		adapter:   ad,
		store:     store,
		logger:    logger,
		timeout:   20 * time.Second,
	}
}

// GenerateAsync 在后台生成标题，使用独立的超时，不受原请求取消影响
func (g *TitleGenerator) GenerateAsync(userID, chatID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		if err := g.Generate(ctx, userID, chatID); err != nil {
			g.logger.Warnf("[Title] Chat %s: %v", chatID, err)
		}
	}()
}

// Generate 标题仍为默认值且未生成过时，用前两条有效消息生成 <= 3 个词的标题
func (g *TitleGenerator) Generate(ctx context.Context, userID, chatID string) error {
	chat, err := g.store.GetChat(ctx, userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}
	if chat.TitleGenerated || chat.Title != models.DefaultChatTitle {
		return nil
	}

	messages, err := g.store.ListMessages(ctx, userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	var picked []models.Message
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" || trivialMessage.MatchString(m.Content) {
			continue
		}
		picked = append(picked, m)
		if len(picked) == 2 {
			break
		}
	}
	if len(picked) < 2 {
		return nil
	}

	title, err := g.requestTitle(ctx, picked)
	if err != nil {
		return err
	}
	if title == "" {
		return nil
	}

	if err := g.store.UpdateChatTitle(ctx, userID, chatID, title); err != nil {
		return fmt.Errorf("failed to save title: %w", err)
	}
	g.logger.Infof("[Title] Chat %s titled %q", chatID, title)
	return nil
}

func (g *TitleGenerator) requestTitle(ctx context.Context, messages []models.Message) (string, error) {
	var b strings.Builder
	b.WriteString(titlePrompt)
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	model := g.router.Table().TitleModel
	decision, err := g.router.Route(model, RouteContext{})
	if err != nil {
		return "", err
	}
	endpoint, err := g.adapter.EndpointURL(decision.Endpoint, adapter.OpChatCompletions)
	if err != nil {
		return "", err
	}

	body, err := g.adapter.BuildChatBody(models.UpstreamChatRequest{
		Model:    decision.UpstreamModel,
		Messages: []models.ChatMessage{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return "", err
	}

	resp, err := g.requester.Execute(ctx, endpoint, body, g.adapter.BaseHeaders(false), decision.Pool)
	if err != nil {
		return "", err
	}
	data, err := readAllLimited(resp, 1<<20)
	if err != nil {
		return "", err
	}

	return CleanTitle(gjson.GetBytes(data, "choices.0.message.content").String()), nil
}

// CleanTitle 去掉引号和标点，最多保留 3 个词
func CleanTitle(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.Trim(raw, "\"'`*#.:!? ")
	raw = strings.TrimPrefix(raw, "Title: ")

	words := strings.Fields(raw)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}
