package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"humanoid/internal/pkg/ctxutil"
)

// GetMe 获取当前用户信息
// @Summary      获取当前用户信息
// @Description  获取当前登录用户的详细信息
// @Tags         认证
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /api/v1/auth/me [get]
func (h *Handler) GetMe(c *gin.Context) {
	// 认证中间件已校验过 Token，这里直接取身份
	ctx := c.Request.Context()
	userID, ok := ctxutil.GetUserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    40101,
			Message: "未授权",
		})
		return
	}

	user, err := h.authService.GetUserByID(ctx, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    40401,
			Message: "用户不存在",
		})
		return
	}

	// 转换为UserInfo
	userInfo := toUserInfo(user)

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    userInfo,
	})
}
