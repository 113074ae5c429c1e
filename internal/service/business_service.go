package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"humanoid/internal/model/business"
	"humanoid/internal/pkg/id"
	"humanoid/internal/pkg/storage"
	"humanoid/internal/semantic"
)

// presignExpiry 下载链接有效期
const presignExpiry = time.Hour

// 检索端点的默认返回条数
const (
	defaultBusinessSearchK = 3
	defaultProductSearchK  = 5
)

// VectorIndexer 语义索引的写入侧
type VectorIndexer interface {
	Upsert(ctx context.Context, kind semantic.Kind, entityID, text string) error
	Delete(ctx context.Context, kind semantic.Kind, entityID string) error
}

// BusinessStore 商家持久化
type BusinessStore interface {
	Create(ctx context.Context, b *business.Business) error
	FindByUserID(ctx context.Context, userID string) (*business.Business, error)
	FindByIDs(ctx context.Context, ids []string) ([]*business.Business, error)
	Update(ctx context.Context, id string, update bson.M) error
	Delete(ctx context.Context, id string) error
}

// ProductStore 商品持久化
type ProductStore interface {
	Create(ctx context.Context, p *business.Product) error
	FindByID(ctx context.Context, id string) (*business.Product, error)
	FindByIDs(ctx context.Context, ids []string) ([]*business.Product, error)
	ListByBusinessID(ctx context.Context, businessID string) ([]*business.Product, error)
	CountByBusinessID(ctx context.Context, businessID string) (int64, error)
	Update(ctx context.Context, id string, update bson.M) error
	Delete(ctx context.Context, id string) error
	DeleteByBusinessID(ctx context.Context, businessID string) error
}

// ImageUpload 一张待上传的图片
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        io.Reader
}

// BusinessService 商家与商品服务
// 描述文本的变更同步到语义索引，索引失败不阻塞主流程（记录后台补偿）
type BusinessService struct {
	businessStore BusinessStore
	productStore  ProductStore
	indexer       VectorIndexer   // 可为 nil（未配置向量模型）
	retriever     Retriever       // 可为 nil（未配置向量模型时检索端点禁用）
	store         storage.Storage // 可为 nil（未配置对象存储时禁用上传）
}

// NewBusinessService 创建商家服务
func NewBusinessService(
	businessStore BusinessStore,
	productStore ProductStore,
	indexer VectorIndexer,
	retriever Retriever,
	store storage.Storage,
) *BusinessService {
	return &BusinessService{
		businessStore: businessStore,
		productStore:  productStore,
		indexer:       indexer,
		retriever:     retriever,
		store:         store,
	}
}

// CreateBusiness 创建商家资料，每个账号至多一个
func (s *BusinessService) CreateBusiness(ctx context.Context, userID, description string) (*business.Business, error) {
	if !business.ValidateDescription(description) {
		return nil, fmt.Errorf("%w: 描述不能为空且最多%d行", ErrInvalidUpload, business.MaxDescriptionLines)
	}

	if existing, _ := s.businessStore.FindByUserID(ctx, userID); existing != nil {
		return nil, ErrBusinessExists
	}

	b := &business.Business{
		ID:          id.New(),
		UserID:      userID,
		Description: description,
	}
	b.VectorID = "business_" + b.ID

	if err := s.businessStore.Create(ctx, b); err != nil {
		return nil, err
	}

	s.indexUpsert(ctx, semantic.KindBusiness, b.ID, description)
	return b, nil
}

// GetBusiness 查询用户的商家资料
func (s *BusinessService) GetBusiness(ctx context.Context, userID string) (*business.Business, error) {
	b, err := s.businessStore.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBusinessNotFound
		}
		return nil, err
	}
	return b, nil
}

// UpdateBusiness 更新商家描述，同步刷新向量
func (s *BusinessService) UpdateBusiness(ctx context.Context, userID, description string) (*business.Business, error) {
	if !business.ValidateDescription(description) {
		return nil, fmt.Errorf("%w: 描述不能为空且最多%d行", ErrInvalidUpload, business.MaxDescriptionLines)
	}

	b, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.businessStore.Update(ctx, b.ID, bson.M{"$set": bson.M{"description": description}}); err != nil {
		return nil, err
	}
	b.Description = description

	s.indexUpsert(ctx, semantic.KindBusiness, b.ID, description)
	return b, nil
}

// DeleteBusiness 删除商家及其全部商品、向量
func (s *BusinessService) DeleteBusiness(ctx context.Context, userID string) error {
	b, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return err
	}

	products, err := s.productStore.ListByBusinessID(ctx, b.ID)
	if err != nil {
		return err
	}
	for _, p := range products {
		s.indexDelete(ctx, semantic.KindProduct, p.ID)
	}
	if err := s.productStore.DeleteByBusinessID(ctx, b.ID); err != nil {
		return err
	}

	s.indexDelete(ctx, semantic.KindBusiness, b.ID)
	return s.businessStore.Delete(ctx, b.ID)
}

// UploadLogo 上传商家 logo（image/*，不超过200KiB）
func (s *BusinessService) UploadLogo(ctx context.Context, userID string, data io.Reader, contentType string, size int64) (*business.Business, error) {
	if s.store == nil {
		return nil, errors.New("对象存储未配置")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: logo 必须是图片", ErrInvalidUpload)
	}
	if size <= 0 || size > business.MaxLogoBytes {
		return nil, fmt.Errorf("%w: logo 不能超过 %dKB", ErrInvalidUpload, business.MaxLogoBytes>>10)
	}

	b, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("businesses/%s/logo", b.ID)
	if _, err := s.store.Upload(ctx, key, io.LimitReader(data, business.MaxLogoBytes), contentType); err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{"logo_key": key, "logo_type": contentType}}
	if err := s.businessStore.Update(ctx, b.ID, update); err != nil {
		return nil, err
	}
	b.LogoKey = key
	b.LogoType = contentType
	return b, nil
}

// LogoURL 生成商家 logo 的预签名下载地址
func (s *BusinessService) LogoURL(ctx context.Context, userID string) (string, error) {
	if s.store == nil {
		return "", errors.New("对象存储未配置")
	}

	b, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return "", err
	}
	if b.LogoKey == "" {
		return "", ErrBusinessNotFound
	}
	return s.store.GetPresignedDownloadURL(ctx, b.LogoKey, presignExpiry)
}

// ProductImageURLs 生成商品全部图片的预签名下载地址，按展示顺序
func (s *BusinessService) ProductImageURLs(ctx context.Context, userID, productID string) ([]string, error) {
	if s.store == nil {
		return nil, errors.New("对象存储未配置")
	}

	p, err := s.ownedProduct(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		u, err := s.store.GetPresignedDownloadURL(ctx, img.Key, presignExpiry)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}

// CreateProduct 创建商品，每个商家最多10个
// 商品必须带1-4张图片，全部图片之和不超过1MiB
func (s *BusinessService) CreateProduct(ctx context.Context, userID, description string, images []ImageUpload) (*business.Product, error) {
	if !business.ValidateDescription(description) {
		return nil, fmt.Errorf("%w: 描述不能为空且最多%d行", ErrInvalidUpload, business.MaxDescriptionLines)
	}
	if len(images) < business.MinImagesPerProduct {
		return nil, fmt.Errorf("%w: 每个商品至少%d张图片", ErrInvalidUpload, business.MinImagesPerProduct)
	}
	if len(images) > business.MaxImagesPerProduct {
		return nil, fmt.Errorf("%w: 单个商品最多%d张图片", ErrInvalidUpload, business.MaxImagesPerProduct)
	}
	var totalBytes int64
	for _, img := range images {
		if !strings.HasPrefix(img.ContentType, "image/") {
			return nil, fmt.Errorf("%w: 只接受图片", ErrInvalidUpload)
		}
		if img.Size <= 0 {
			return nil, fmt.Errorf("%w: 文件为空", ErrInvalidUpload)
		}
		totalBytes += img.Size
	}
	if totalBytes > business.MaxImagesTotalBytes {
		return nil, fmt.Errorf("%w: 商品图片总大小不能超过 %dMB", ErrInvalidUpload, business.MaxImagesTotalBytes>>20)
	}
	if s.store == nil {
		return nil, errors.New("对象存储未配置")
	}

	b, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return nil, err
	}

	count, err := s.productStore.CountByBusinessID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if count >= business.MaxProductsPerShop {
		return nil, ErrProductLimitExceeded
	}

	p := &business.Product{
		ID:          id.New(),
		BusinessID:  b.ID,
		Description: description,
	}
	p.VectorID = "product_" + p.ID

	for i, img := range images {
		stored := business.ProductImage{
			Key:         fmt.Sprintf("products/%s/images/%d", p.ID, i),
			Filename:    img.Filename,
			ContentType: img.ContentType,
			Size:        img.Size,
			Order:       i,
		}
		if _, err := s.store.Upload(ctx, stored.Key, io.LimitReader(img.Data, business.MaxImagesTotalBytes), img.ContentType); err != nil {
			return nil, err
		}
		p.Images = append(p.Images, stored)
	}

	if err := s.productStore.Create(ctx, p); err != nil {
		return nil, err
	}

	s.indexUpsert(ctx, semantic.KindProduct, p.ID, description)
	return p, nil
}

// ListProducts 商家的商品列表
func (s *BusinessService) ListProducts(ctx context.Context, userID string) ([]*business.Product, error) {
	b, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.productStore.ListByBusinessID(ctx, b.ID)
}

// UpdateProduct 更新商品描述，同步刷新向量
func (s *BusinessService) UpdateProduct(ctx context.Context, userID, productID, description string) (*business.Product, error) {
	if !business.ValidateDescription(description) {
		return nil, fmt.Errorf("%w: 描述不能为空且最多%d行", ErrInvalidUpload, business.MaxDescriptionLines)
	}

	p, err := s.ownedProduct(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	if err := s.productStore.Update(ctx, p.ID, bson.M{"$set": bson.M{"description": description}}); err != nil {
		return nil, err
	}
	p.Description = description

	s.indexUpsert(ctx, semantic.KindProduct, p.ID, description)
	return p, nil
}

// DeleteProduct 删除商品及其向量
func (s *BusinessService) DeleteProduct(ctx context.Context, userID, productID string) error {
	p, err := s.ownedProduct(ctx, userID, productID)
	if err != nil {
		return err
	}

	s.indexDelete(ctx, semantic.KindProduct, p.ID)
	return s.productStore.Delete(ctx, p.ID)
}

// AddProductImage 追加商品图片
// 单个商品最多4张，全部图片之和不超过1MiB
func (s *BusinessService) AddProductImage(ctx context.Context, userID, productID, filename, contentType string, data io.Reader, size int64) (*business.Product, error) {
	if s.store == nil {
		return nil, errors.New("对象存储未配置")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: 只接受图片", ErrInvalidUpload)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: 文件为空", ErrInvalidUpload)
	}

	p, err := s.ownedProduct(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	if len(p.Images) >= business.MaxImagesPerProduct {
		return nil, fmt.Errorf("%w: 单个商品最多%d张图片", ErrInvalidUpload, business.MaxImagesPerProduct)
	}
	if p.TotalImageBytes()+size > business.MaxImagesTotalBytes {
		return nil, fmt.Errorf("%w: 商品图片总大小不能超过 %dMB", ErrInvalidUpload, business.MaxImagesTotalBytes>>20)
	}

	img := business.ProductImage{
		Key:         fmt.Sprintf("products/%s/images/%d", p.ID, len(p.Images)),
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		Order:       len(p.Images),
	}

	if _, err := s.store.Upload(ctx, img.Key, io.LimitReader(data, business.MaxImagesTotalBytes), contentType); err != nil {
		return nil, err
	}

	update := bson.M{"$push": bson.M{"images": img}}
	if err := s.productStore.Update(ctx, p.ID, update); err != nil {
		return nil, err
	}
	p.Images = append(p.Images, img)
	return p, nil
}

// BusinessMatch 商家检索结果
type BusinessMatch struct {
	Business *business.Business `json:"business"`
	Score    float64            `json:"score"`
}

// SearchBusinesses 按描述相似度检索商家
func (s *BusinessService) SearchBusinesses(ctx context.Context, query string, topK int) ([]BusinessMatch, error) {
	if s.retriever == nil {
		return nil, ErrIndexUnavailable
	}
	if topK <= 0 {
		topK = defaultBusinessSearchK
	}

	matches, err := s.retriever.Query(ctx, query, topK, semantic.KindBusiness)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.EntityID)
	}
	businesses, err := s.businessStore.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*business.Business, len(businesses))
	for _, b := range businesses {
		byID[b.ID] = b
	}

	// 按检索顺序（分数降序）排列
	results := make([]BusinessMatch, 0, len(matches))
	for _, m := range matches {
		if b, ok := byID[m.EntityID]; ok {
			results = append(results, BusinessMatch{Business: b, Score: m.Score})
		}
	}
	return results, nil
}

// SearchProducts 按描述相似度检索商品
// businessID 非空时只保留该商家的商品
func (s *BusinessService) SearchProducts(ctx context.Context, query string, topK int, businessID string) ([]MatchedProduct, error) {
	if s.retriever == nil {
		return nil, ErrIndexUnavailable
	}
	if topK <= 0 {
		topK = defaultProductSearchK
	}

	matches, err := s.retriever.Query(ctx, query, topK, semantic.KindProduct)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.EntityID)
	}
	products, err := s.productStore.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*business.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	results := make([]MatchedProduct, 0, len(matches))
	for _, m := range matches {
		p, ok := byID[m.EntityID]
		if !ok {
			continue
		}
		if businessID != "" && p.BusinessID != businessID {
			continue
		}
		results = append(results, MatchedProduct{Product: p, Score: m.Score})
	}
	return results, nil
}

// ProductStats 商家的商品配额统计
type ProductStats struct {
	TotalProducts  int64 `json:"total_products"`
	MaxProducts    int   `json:"max_products"`
	RemainingSlots int64 `json:"remaining_slots"`
	CanAddMore     bool  `json:"can_add_more"`
}

// GetProductStats 当前商家的商品数与剩余配额
func (s *BusinessService) GetProductStats(ctx context.Context, userID string) (*ProductStats, error) {
	b, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return nil, err
	}

	count, err := s.productStore.CountByBusinessID(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	remaining := int64(business.MaxProductsPerShop) - count
	if remaining < 0 {
		remaining = 0
	}
	return &ProductStats{
		TotalProducts:  count,
		MaxProducts:    business.MaxProductsPerShop,
		RemainingSlots: remaining,
		CanAddMore:     remaining > 0,
	}, nil
}

// ownedProduct 查询商品并校验归属
func (s *BusinessService) ownedProduct(ctx context.Context, userID, productID string) (*business.Product, error) {
	p, err := s.productStore.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	b, err := s.GetBusiness(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.BusinessID != b.ID {
		return nil, ErrForbidden
	}
	return p, nil
}

// indexUpsert 向量写入，失败只记录
func (s *BusinessService) indexUpsert(ctx context.Context, kind semantic.Kind, entityID, text string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Upsert(ctx, kind, entityID, text); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Str("entity_id", entityID).Msg("failed to index description")
	}
}

// indexDelete 向量删除，失败只记录
func (s *BusinessService) indexDelete(ctx context.Context, kind semantic.Kind, entityID string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Delete(ctx, kind, entityID); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Str("entity_id", entityID).Msg("failed to remove vector")
	}
}
