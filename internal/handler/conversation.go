package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"humanoid/internal/pkg/ctxutil"
	pkghttp "humanoid/internal/pkg/http"
	"humanoid/internal/service"
)

// ConversationHandler 对话查询处理器
type ConversationHandler struct {
	convService *service.ConversationService
}

// NewConversationHandler 创建对话查询处理器
func NewConversationHandler(convService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{convService: convService}
}

// List 对话列表
// @Summary      对话列表
// @Description  当前用户的对话列表，按最近更新排序，不含消息体
// @Tags         对话
// @Produce      json
// @Security     BearerAuth
// @Param        limit   query  int  false  "每页条数，默认20"
// @Param        offset  query  int  false  "偏移量"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/conversations [get]
func (h *ConversationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := ctxutil.GetUserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(40101, "未授权"))
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	convs, total, err := h.convService.List(ctx, userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "查询失败", err.Error()))
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", gin.H{
		"conversations": convs,
		"total":         total,
	}))
}

// Get 对话详情
// @Summary      对话详情
// @Description  对话的全部消息
// @Tags         对话
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  http.ErrorResponse
// @Router       /api/v1/conversations/{id} [get]
func (h *ConversationHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := ctxutil.GetUserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(40101, "未授权"))
		return
	}

	conv, err := h.convService.Get(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", conv))
}

// Delete 删除对话
// @Summary      删除对话
// @Tags         对话
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  http.ErrorResponse
// @Router       /api/v1/conversations/{id} [delete]
func (h *ConversationHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := ctxutil.GetUserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(40101, "未授权"))
		return
	}

	if err := h.convService.Delete(ctx, userID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("已删除", nil))
}

func (h *ConversationHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, pkghttp.NewErrorResponse(40401, err.Error()))
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, pkghttp.NewErrorResponse(40301, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "服务器内部错误", err.Error()))
	}
}
