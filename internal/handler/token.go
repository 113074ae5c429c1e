package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"humanoid/internal/pkg/ctxutil"
	pkghttp "humanoid/internal/pkg/http"
	"humanoid/internal/service"
)

// TokenHandler 凭证管理处理器（管理员）
type TokenHandler struct {
	tokenService *service.TokenService
}

// NewTokenHandler 创建凭证管理处理器
func NewTokenHandler(tokenService *service.TokenService) *TokenHandler {
	return &TokenHandler{tokenService: tokenService}
}

// CreateTokenRequest 录入凭证请求
type CreateTokenRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=100"` // 凭证名称
	Secret   string `json:"secret" binding:"required"`             // 供应商 API key，只在录入时出现
	Capacity int    `json:"capacity,omitempty"`                    // 并发容量，默认取池配置
}

// Create 录入凭证
// @Summary      录入凭证
// @Description  录入一个新的供应商访问凭证，立即可被分配
// @Tags         凭证管理
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      CreateTokenRequest  true  "凭证"
// @Success      201      {object}  map[string]interface{}
// @Failure      400      {object}  http.ErrorResponse
// @Router       /api/v1/admin/tokens [post]
func (h *TokenHandler) Create(c *gin.Context) {
	var req CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	view, err := h.tokenService.Create(ctx, userID, req.Name, req.Secret, req.Capacity)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pkghttp.NewSuccessResponse("已录入", view))
}

// List 凭证列表
// @Summary      凭证列表
// @Description  全部凭证，secret 以掩码预览返回
// @Tags         凭证管理
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/admin/tokens [get]
func (h *TokenHandler) List(c *gin.Context) {
	views, err := h.tokenService.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "查询失败", err.Error()))
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", gin.H{"tokens": views}))
}

// SetActiveRequest 激活/停用请求
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"` // 目标状态
}

// SetActive 激活/停用凭证
// @Summary      激活/停用凭证
// @Description  停用只阻止新分配，不打断已有会话
// @Tags         凭证管理
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string            true  "凭证ID"
// @Param        request  body      SetActiveRequest  true  "目标状态"
// @Success      200      {object}  map[string]interface{}
// @Failure      404      {object}  http.ErrorResponse
// @Router       /api/v1/admin/tokens/{id}/active [put]
func (h *TokenHandler) SetActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid request body", err.Error()))
		return
	}

	if err := h.tokenService.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", nil))
}

// Delete 删除凭证
// @Summary      删除凭证
// @Description  释放其全部活跃分配后从池与库中移除
// @Tags         凭证管理
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string  true  "凭证ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  http.ErrorResponse
// @Router       /api/v1/admin/tokens/{id} [delete]
func (h *TokenHandler) Delete(c *gin.Context) {
	if err := h.tokenService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("已删除", nil))
}

// Stats 池统计
// @Summary      凭证池统计
// @Tags         凭证管理
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/admin/tokens/stats [get]
func (h *TokenHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", h.tokenService.Stats()))
}

func (h *TokenHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTokenNotFound):
		c.JSON(http.StatusNotFound, pkghttp.NewErrorResponse(40402, err.Error()))
	case errors.Is(err, service.ErrTokenDuplicate), errors.Is(err, service.ErrTokenSecretEmpty):
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "服务器内部错误", err.Error()))
	}
}
