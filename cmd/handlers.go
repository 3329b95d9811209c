package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"fronix-gateway/auth"
	"fronix-gateway/core"
	"fronix-gateway/models"
	"fronix-gateway/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const studyModePrompt = `You are a patient tutor. Guide the student toward the answer step by step instead of giving it away. ` +
	`Ask short questions to check understanding, explain the underlying concepts, and only confirm the final answer once the student has reasoned through it.`

// app 聚合 HTTP 层依赖
type app struct {
	store        *store.GormStore
	router       *core.UpstreamRouter
	registry     *core.PoolRegistry
	affinity     *core.AffinityTracker
	orchestrator *core.FallbackOrchestrator
	images       *core.ImageService
	imageHost    *core.ImageHost
	titles       *core.TitleGenerator
	poller       *core.ModelStatusPoller
	recorder     *core.AsyncUpstreamLogger
	timeout      time.Duration
	logger       *logrus.Logger
}

// setupRoutes 设置路由
func setupRoutes(engine *gin.Engine, a *app, authn *auth.JWTAuthenticator, metrics *core.Metrics) {
	// 公开路由
	engine.GET("/health", handleHealth())
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	engine.GET("/model-status", handleModelStatus(a))
	engine.GET("/optimization-stats", handleOptimizationStats(a))
	engine.GET("/dashboard", handleDashboard())
	engine.POST("/chat-public", handleChatPublic(a))

	// 需要登录的路由
	api := engine.Group("/")
	api.Use(auth.Middleware(authn, a.logger))
	{
		api.POST("/chat", handleChat(a))
		api.POST("/images/generations", handleImageGeneration(a))
		api.POST("/images/upload", handleImageUpload(a))

		api.GET("/chats", handleListChats(a))
		api.POST("/chats", handleCreateChat(a))
		api.GET("/chats/:chatId/messages", handleListMessages(a))
		api.DELETE("/chats/:chatId", handleDeleteChat(a))
		api.POST("/chats/:chatId/toggle-study-mode", handleToggleStudyMode(a))

		api.GET("/user/me", handleMe(a))
	}
}

// handleHealth 处理健康检查
func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.NewHealthResponse())
	}
}

// handleChat 鉴权后的流式对话
func handleChat(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request: model and messages are required"})
			return
		}

		ctx := c.Request.Context()
		userID := auth.UserID(c)
		profile, err := a.store.EnsureProfile(ctx, userID, auth.Email(c))
		if err != nil {
			a.logger.Errorf("Failed to load profile for %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load user profile"})
			return
		}

		decision, err := a.router.Route(req.Model, core.RouteContext{
			UserID:            userID,
			UserPlan:          profile.Plan,
			ProModelsEnabled:  req.ProModelsEnabled,
			BetaModelsEnabled: req.BetaModelsEnabled,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		messages := req.Messages
		if req.ChatID != "" {
			chat, err := a.store.GetChat(ctx, userID, req.ChatID)
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Chat not found"})
				return
			}
			if err != nil {
				a.logger.Errorf("Failed to load chat %s: %v", req.ChatID, err)
				c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load chat"})
				return
			}
			if chat.StudyMode {
				messages = append([]models.ChatMessage{{Role: "system", Content: studyModePrompt}}, messages...)
			}
			a.saveLastUserMessage(ctx, userID, req.ChatID, req.Messages)
		}

		result := a.stream(c, decision, messages)
		if result.State == core.StateDone && req.ChatID != "" && result.Content != "" {
			a.saveAssistantMessage(userID, req.ChatID, result.Content)
			a.titles.GenerateAsync(userID, req.ChatID)
		}
	}
}

// handleChatPublic 匿名对话，只允许白名单模型
func handleChatPublic(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request: model and messages are required"})
			return
		}

		table := a.router.Table()
		if !table.IsPublicModel(req.Model) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":         "This model is not available for public access",
				"allowedModels": table.PublicModels,
			})
			return
		}

		decision, err := a.router.Route(req.Model, core.RouteContext{})
		if err != nil {
			respondError(c, err)
			return
		}
		a.stream(c, decision, req.Messages)
	}
}

// stream 以请求级超时执行带兜底的流式转发
// 响应头未提交时的失败以 JSON 返回
func (a *app) stream(c *gin.Context, decision *core.RouteDecision, messages []models.ChatMessage) core.RelayResult {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
	defer cancel()

	requestID := c.GetString(requestIDKey)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	a.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    auth.UserID(c),
		"model":      decision.RequestedModel,
		"provider":   decision.Provider,
		"tier":       decision.Tier,
	}).Info("Routing chat request")

	sink := core.NewStreamSink(c.Writer)
	result := a.orchestrator.Stream(ctx, sink, core.StreamRequest{
		RequestID: requestID,
		Decision:  decision,
		Messages:  messages,
	})

	if result.Err != nil && !sink.Committed() {
		respondError(c, result.Err)
	}
	return result
}

func (a *app) saveLastUserMessage(ctx context.Context, userID, chatID string, messages []models.ChatMessage) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != "user" {
			continue
		}
		msg := &models.Message{
			ChatID:  chatID,
			UserID:  userID,
			Role:    "user",
			Content: m.StringContent(),
		}
		if urls := m.ImageURLs(); len(urls) > 0 {
			msg.ImageURL = urls[0]
		}
		if err := a.store.SaveMessage(ctx, msg); err != nil {
			a.logger.Errorf("Failed to save user message for chat %s: %v", chatID, err)
		}
		return
	}
}

// saveAssistantMessage 不使用请求 ctx，客户端断开后仍要落库
func (a *app) saveAssistantMessage(userID, chatID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.store.SaveMessage(ctx, &models.Message{
		ChatID:  chatID,
		UserID:  userID,
		Role:    "assistant",
		Content: content,
	})
	if err != nil {
		a.logger.Errorf("Failed to save assistant message for chat %s: %v", chatID, err)
	}
}

// handleImageGeneration 图片生成
func handleImageGeneration(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ImageGenerationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Model and prompt are required"})
			return
		}
		req.ApplyDefaults()

		resp, err := a.images.Generate(c.Request.Context(), req)
		if err != nil {
			a.logger.Errorf("Image generation failed: %v", err)
			respondError(c, err)
			return
		}

		created := resp.Created
		if created == 0 {
			created = time.Now().Unix()
		}
		c.JSON(http.StatusOK, models.ImageResult{
			Status:  "success",
			Data:    resp.Data,
			Model:   req.Model,
			Prompt:  req.Prompt,
			Created: created,
		})
	}
}

// handleImageUpload 上传 base64 图片到图床
func handleImageUpload(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.imageHost.Configured() {
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "Image upload is not configured"})
			return
		}

		var req models.ImageUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil || !strings.HasPrefix(req.Image, "data:image/") {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "A base64 image data URI is required"})
			return
		}

		result, err := a.imageHost.Upload(c.Request.Context(), req.Image)
		if err != nil {
			a.logger.Errorf("Image upload failed: %v", err)
			c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "Failed to upload image"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// handleListChats 列出当前用户的会话
func handleListChats(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		chats, err := a.store.ListChats(c.Request.Context(), auth.UserID(c))
		if err != nil {
			a.logger.Errorf("Failed to list chats: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to fetch chats"})
			return
		}
		c.JSON(http.StatusOK, chats)
	}
}

// handleCreateChat 新建会话
func handleCreateChat(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Title string `json:"title"`
		}
		// 空 body 视为默认标题
		_ = c.ShouldBindJSON(&body)

		chat, err := a.store.CreateChat(c.Request.Context(), auth.UserID(c), strings.TrimSpace(body.Title))
		if err != nil {
			a.logger.Errorf("Failed to create chat: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create chat"})
			return
		}
		c.JSON(http.StatusCreated, chat)
	}
}

// handleListMessages 列出会话消息
func handleListMessages(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := auth.UserID(c)
		chatID := c.Param("chatId")

		if _, err := a.store.GetChat(ctx, userID, chatID); err != nil {
			respondStoreError(c, err)
			return
		}
		messages, err := a.store.ListMessages(ctx, userID, chatID)
		if err != nil {
			a.logger.Errorf("Failed to list messages for chat %s: %v", chatID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to fetch messages"})
			return
		}
		c.JSON(http.StatusOK, messages)
	}
}

// handleDeleteChat 删除会话 (只有所有者可以删除)
func handleDeleteChat(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.store.DeleteChat(c.Request.Context(), auth.UserID(c), c.Param("chatId")); err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleToggleStudyMode 切换学习模式
func handleToggleStudyMode(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		on, err := a.store.ToggleStudyMode(c.Request.Context(), auth.UserID(c), c.Param("chatId"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"study_mode": on})
	}
}

// handleMe 当前用户资料
func handleMe(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := a.store.EnsureProfile(c.Request.Context(), auth.UserID(c), auth.Email(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load user profile"})
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

// handleModelStatus 模型可用性
func handleModelStatus(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.poller.Report())
	}
}

// handleOptimizationStats 凭证池与上游统计
func handleOptimizationStats(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := a.recorder.ProviderStats()
		if err != nil {
			a.logger.Warnf("Failed to query provider stats: %v", err)
		}
		c.JSON(http.StatusOK, gin.H{
			"pools":           a.registry.Snapshots(),
			"providers":       stats,
			"affinityEntries": a.affinity.Count(),
			"timestamp":       time.Now().Unix(),
		})
	}
}

// respondError 按错误类型映射状态码，客户端只看到通用信息
func respondError(c *gin.Context, err error) {
	c.JSON(core.StatusForError(err), models.ErrorResponse{Error: core.ClientMessage(err)})
}

func respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Chat not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Database error"})
}
