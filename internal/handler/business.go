package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"humanoid/internal/model/business"
	"humanoid/internal/pkg/ctxutil"
	pkghttp "humanoid/internal/pkg/http"
	"humanoid/internal/service"
)

// BusinessHandler 商家与商品处理器
type BusinessHandler struct {
	bizService *service.BusinessService
}

// NewBusinessHandler 创建商家处理器
func NewBusinessHandler(bizService *service.BusinessService) *BusinessHandler {
	return &BusinessHandler{bizService: bizService}
}

// BusinessRequest 商家资料请求
type BusinessRequest struct {
	Description string `json:"description" binding:"required"` // 商家描述，最多10行
}

// CreateBusiness 创建商家资料
// @Summary      创建商家资料
// @Description  每个账号只能创建一个商家；描述写入语义索引
// @Tags         商家
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      BusinessRequest  true  "商家资料"
// @Success      201      {object}  map[string]interface{}
// @Failure      400      {object}  http.ErrorResponse
// @Router       /api/v1/business [post]
func (h *BusinessHandler) CreateBusiness(c *gin.Context) {
	var req BusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	b, err := h.bizService.CreateBusiness(ctx, userID, req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pkghttp.NewSuccessResponse("已创建", b))
}

// GetBusiness 查询商家资料
// @Summary      查询商家资料
// @Tags         商家
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  http.ErrorResponse
// @Router       /api/v1/business [get]
func (h *BusinessHandler) GetBusiness(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	b, err := h.bizService.GetBusiness(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", b))
}

// UpdateBusiness 更新商家资料
// @Summary      更新商家资料
// @Tags         商家
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      BusinessRequest  true  "商家资料"
// @Success      200      {object}  map[string]interface{}
// @Router       /api/v1/business [put]
func (h *BusinessHandler) UpdateBusiness(c *gin.Context) {
	var req BusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	b, err := h.bizService.UpdateBusiness(ctx, userID, req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", b))
}

// DeleteBusiness 删除商家及其商品
// @Summary      删除商家
// @Tags         商家
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/business [delete]
func (h *BusinessHandler) DeleteBusiness(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	if err := h.bizService.DeleteBusiness(ctx, userID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("已删除", nil))
}

// UploadLogo 上传商家 logo
// @Summary      上传商家logo
// @Description  multipart 表单，字段名 logo，image/* 且不超过200KB
// @Tags         商家
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        logo  formData  file  true  "logo 文件"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  http.ErrorResponse
// @Router       /api/v1/business/logo [post]
func (h *BusinessHandler) UploadLogo(c *gin.Context) {
	fileHeader, err := c.FormFile("logo")
	if err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "缺少 logo 文件", err.Error()))
		return
	}
	if fileHeader.Size > business.MaxLogoBytes {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "logo 不能超过 200KB"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "读取文件失败", err.Error()))
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	contentType := fileHeader.Header.Get("Content-Type")
	b, err := h.bizService.UploadLogo(ctx, userID, file, contentType, fileHeader.Size)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", b))
}

// GetLogo 获取商家 logo 下载地址
// @Summary      获取商家logo下载地址
// @Description  返回预签名下载URL，有效期1小时
// @Tags         商家
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  http.ErrorResponse
// @Router       /api/v1/business/logo [get]
func (h *BusinessHandler) GetLogo(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	url, err := h.bizService.LogoURL(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", gin.H{"url": url}))
}

// ProductRequest 商品请求
type ProductRequest struct {
	Description string `json:"description" binding:"required"` // 商品描述，最多10行
}

// CreateProduct 创建商品
// @Summary      创建商品
// @Description  multipart 表单，description 字段 + images 文件（1-4张，总计不超过1MB）；每个商家最多10个商品，描述写入语义索引
// @Tags         商品
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        description  formData  string  true  "商品描述"
// @Param        images       formData  file    true  "商品图片，可多张"
// @Success      201          {object}  map[string]interface{}
// @Failure      400          {object}  http.ErrorResponse
// @Router       /api/v1/business/products [post]
func (h *BusinessHandler) CreateProduct(c *gin.Context) {
	description := c.PostForm("description")
	if description == "" {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "缺少 description 字段"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid multipart form", err.Error()))
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "每个商品至少上传1张图片"))
		return
	}

	uploads := make([]service.ImageUpload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "读取文件失败", err.Error()))
			return
		}
		defer f.Close()
		uploads = append(uploads, service.ImageUpload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Data:        f,
		})
	}

	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	p, err := h.bizService.CreateProduct(ctx, userID, description, uploads)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pkghttp.NewSuccessResponse("已创建", p))
}

// ListProducts 商品列表
// @Summary      商品列表
// @Tags         商品
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/business/products [get]
func (h *BusinessHandler) ListProducts(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	products, err := h.bizService.ListProducts(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", gin.H{"products": products}))
}

// UpdateProduct 更新商品
// @Summary      更新商品
// @Tags         商品
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string          true  "商品ID"
// @Param        request  body      ProductRequest  true  "商品"
// @Success      200      {object}  map[string]interface{}
// @Router       /api/v1/business/products/{id} [put]
func (h *BusinessHandler) UpdateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	p, err := h.bizService.UpdateProduct(ctx, userID, c.Param("id"), req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", p))
}

// DeleteProduct 删除商品
// @Summary      删除商品
// @Tags         商品
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string  true  "商品ID"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/business/products/{id} [delete]
func (h *BusinessHandler) DeleteProduct(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	if err := h.bizService.DeleteProduct(ctx, userID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("已删除", nil))
}

// UploadProductImage 上传商品图片
// @Summary      上传商品图片
// @Description  multipart 表单，字段名 image；单商品最多4张，总计不超过1MB
// @Tags         商品
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      string  true  "商品ID"
// @Param        image  formData  file    true  "图片文件"
// @Success      200    {object}  map[string]interface{}
// @Failure      400    {object}  http.ErrorResponse
// @Router       /api/v1/business/products/{id}/images [post]
func (h *BusinessHandler) UploadProductImage(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "缺少 image 文件", err.Error()))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "读取文件失败", err.Error()))
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	contentType := fileHeader.Header.Get("Content-Type")
	p, err := h.bizService.AddProductImage(ctx, userID, c.Param("id"), fileHeader.Filename, contentType, file, fileHeader.Size)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", p))
}

// SearchRequest 语义检索请求
type SearchRequest struct {
	Query      string `json:"query" binding:"required"` // 检索文本
	TopK       int    `json:"top_k"`                    // 返回条数，缺省时按端点默认
	BusinessID string `json:"business_id"`              // 商品检索可选：限定商家
}

// SearchBusinesses 语义检索商家
// @Summary      语义检索商家
// @Description  按描述相似度返回商家及相关度分数
// @Tags         商家
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      SearchRequest  true  "检索请求"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  http.ErrorResponse
// @Router       /api/v1/business/search [post]
func (h *BusinessHandler) SearchBusinesses(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid request body", err.Error()))
		return
	}

	results, err := h.bizService.SearchBusinesses(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", gin.H{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	}))
}

// SearchProducts 语义检索商品
// @Summary      语义检索商品
// @Description  按描述相似度返回商品及相关度分数，可限定商家
// @Tags         商品
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      SearchRequest  true  "检索请求"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  http.ErrorResponse
// @Router       /api/v1/business/products/search [post]
func (h *BusinessHandler) SearchProducts(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, "Invalid request body", err.Error()))
		return
	}

	results, err := h.bizService.SearchProducts(c.Request.Context(), req.Query, req.TopK, req.BusinessID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", gin.H{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	}))
}

// GetProductStats 商品配额统计
// @Summary      商品配额统计
// @Description  当前商家的商品数、上限与剩余配额
// @Tags         商品
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  http.ErrorResponse
// @Router       /api/v1/business/products/stats [get]
func (h *BusinessHandler) GetProductStats(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	stats, err := h.bizService.GetProductStats(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", stats))
}

// GetProductImages 获取商品图片下载地址
// @Summary      获取商品图片下载地址
// @Description  按展示顺序返回预签名下载URL，有效期1小时
// @Tags         商品
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string  true  "商品ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  http.ErrorResponse
// @Router       /api/v1/business/products/{id}/images [get]
func (h *BusinessHandler) GetProductImages(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	urls, err := h.bizService.ProductImageURLs(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("ok", gin.H{"urls": urls}))
}

func (h *BusinessHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrBusinessNotFound), errors.Is(err, service.ErrProductNotFound):
		c.JSON(http.StatusNotFound, pkghttp.NewErrorResponse(40401, err.Error()))
	case errors.Is(err, service.ErrBusinessExists), errors.Is(err, service.ErrProductLimitExceeded), errors.Is(err, service.ErrInvalidUpload):
		c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40001, err.Error()))
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, pkghttp.NewErrorResponse(40301, err.Error()))
	case errors.Is(err, service.ErrIndexUnavailable):
		c.JSON(http.StatusServiceUnavailable, pkghttp.NewErrorResponse(50303, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, "服务器内部错误", err.Error()))
	}
}
