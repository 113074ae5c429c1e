package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"humanoid/internal/pkg/ctxutil"
	pkghttp "humanoid/internal/pkg/http"
	"humanoid/internal/service"
)

// ChatHandler 对话处理器
type ChatHandler struct {
	chatService *service.ChatService
	convService *service.ConversationService
}

// NewChatHandler 创建对话处理器
func NewChatHandler(chatService *service.ChatService, convService *service.ConversationService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		convService: convService,
	}
}

// SendMessageRequest 发消息请求
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`        // 为空时新建对话
	Message        string `json:"message" binding:"required,min=1"` // 消息内容
	DeepDive       bool   `json:"deep_dive,omitempty"`              // 深度模式：更长更充分的回答
}

// SendMessage 发消息
// @Summary      发送对话消息
// @Description  向 AI 发送一条消息；conversation_id 为空时新建对话
// @Tags         对话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      SendMessageRequest  true  "消息请求"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  http.ErrorResponse
// @Failure      404      {object}  http.ErrorResponse
// @Failure      503      {object}  http.ErrorResponse
// @Router       /api/v1/chat [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	userID, ok := ctxutil.GetUserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(40101, "未授权"))
		return
	}
	sessionID, ok := ctxutil.GetSessionID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(40101, "未授权"))
		return
	}

	result, err := h.chatService.SendMessage(ctx, userID, sessionID, req.ConversationID, req.Message, req.DeepDive)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// 对话有了新消息，详情缓存失效
	h.convService.InvalidateCache(ctx, result.ConversationID)

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", result))
}

// ReleaseSession 主动释放当前会话持有的凭证
// @Summary      释放会话凭证
// @Description  结束当前会话的 AI 使用，释放凭证池分配
// @Tags         对话
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/chat/session/release [post]
func (h *ChatHandler) ReleaseSession(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID, ok := ctxutil.GetSessionID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(40101, "未授权"))
		return
	}

	if err := h.chatService.ReleaseSession(ctx, sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "释放失败", err.Error()))
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("已释放", nil))
}

// writeError 业务错误到HTTP状态码的映射
func (h *ChatHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, err.Error()))
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, pkghttp.NewErrorResponse(40401, err.Error()))
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, pkghttp.NewErrorResponse(40301, err.Error()))
	case errors.Is(err, service.ErrPoolExhausted):
		c.JSON(http.StatusServiceUnavailable, pkghttp.NewErrorResponse(50301, err.Error()))
	case errors.Is(err, service.ErrModelCall):
		c.JSON(http.StatusServiceUnavailable, pkghttp.NewErrorResponse(50302, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "服务器内部错误", err.Error()))
	}
}
