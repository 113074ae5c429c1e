package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"humanoid/internal/model/credential"
	"humanoid/internal/pkg/id"
	"humanoid/internal/pool"
	credRepo "humanoid/internal/repository/credential"
)

// SecretEvictor 凭证删除后清理按 secret 缓存的模型实例
type SecretEvictor interface {
	Evict(secret string)
}

// TokenService 凭证管理服务（管理员）
// 先写库再同步内存池，保证重启后状态一致
type TokenService struct {
	tokenRepo       *credRepo.TokenRepo
	pool            *pool.Pool
	evictor         SecretEvictor
	defaultCapacity int
}

// NewTokenService 创建凭证管理服务
func NewTokenService(tokenRepo *credRepo.TokenRepo, credPool *pool.Pool, evictor SecretEvictor, defaultCapacity int) *TokenService {
	if defaultCapacity < 1 {
		defaultCapacity = 1
	}
	return &TokenService{
		tokenRepo:       tokenRepo,
		pool:            credPool,
		evictor:         evictor,
		defaultCapacity: defaultCapacity,
	}
}

// TokenView 管理接口返回的凭证视图，secret 只给掩码预览
type TokenView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SecretPreview string `json:"secret_preview"`
	Capacity      int    `json:"capacity"`
	Active        bool   `json:"active"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
}

func toView(t *credential.Token) *TokenView {
	return &TokenView{
		ID:            t.ID,
		Name:          t.Name,
		SecretPreview: t.MaskedSecret(),
		Capacity:      t.Capacity,
		Active:        t.Active,
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Create 录入新凭证，立即可被分配
func (s *TokenService) Create(ctx context.Context, createdBy, name, secret string, capacity int) (*TokenView, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrTokenSecretEmpty
	}
	if capacity < 1 {
		capacity = s.defaultCapacity
	}

	// 同一 secret 不重复录入
	if existing, _ := s.tokenRepo.FindBySecret(ctx, secret); existing != nil {
		return nil, ErrTokenDuplicate
	}

	token := &credential.Token{
		ID:        id.New(),
		Secret:    secret,
		Name:      name,
		Capacity:  capacity,
		Active:    true,
		CreatedBy: createdBy,
	}

	if err := s.tokenRepo.Create(ctx, token); err != nil {
		log.Error().Err(err).Msg("failed to create provider token")
		return nil, err
	}

	s.pool.AddToken(token)

	log.Info().Str("token_id", token.ID).Str("name", name).Msg("provider token created")
	return toView(token), nil
}

// List 全部凭证（掩码视图）
func (s *TokenService) List(ctx context.Context) ([]*TokenView, error) {
	tokens, err := s.tokenRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]*TokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, toView(t))
	}
	return views, nil
}

// SetActive 激活/停用凭证
// 停用不打断已有分配，只阻止新分配
func (s *TokenService) SetActive(ctx context.Context, tokenID string, active bool) error {
	if _, err := s.tokenRepo.FindByID(ctx, tokenID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrTokenNotFound
		}
		return err
	}

	if err := s.tokenRepo.SetActive(ctx, tokenID, active); err != nil {
		return err
	}
	if err := s.pool.SetTokenActive(tokenID, active); err != nil && !errors.Is(err, pool.ErrTokenNotFound) {
		return err
	}

	log.Info().Str("token_id", tokenID).Bool("active", active).Msg("provider token state changed")
	return nil
}

// Delete 删除凭证：释放其全部活跃分配，清掉模型缓存，再删库
func (s *TokenService) Delete(ctx context.Context, tokenID string) error {
	removed, err := s.pool.RemoveToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, pool.ErrTokenNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	if s.evictor != nil {
		s.evictor.Evict(removed.Secret)
	}

	if err := s.tokenRepo.Delete(ctx, tokenID); err != nil {
		log.Error().Err(err).Str("token_id", tokenID).Msg("failed to delete provider token from store")
		return err
	}

	log.Info().Str("token_id", tokenID).Msg("provider token deleted")
	return nil
}

// Stats 池的聚合统计
func (s *TokenService) Stats() pool.Stats {
	return s.pool.Stats()
}
