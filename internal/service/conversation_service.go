package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"humanoid/internal/model/chat"
	"humanoid/internal/pkg/cache"
	"humanoid/internal/repository"
)

// ConversationService 对话查询服务
// 详情读取走 Redis 缓存（缓存未配置时直连库），写入方负责失效
type ConversationService struct {
	convRepo *repository.ConversationRepo
	cache    *cache.RedisCache // 可为 nil
}

// NewConversationService 创建对话查询服务
func NewConversationService(convRepo *repository.ConversationRepo, redisCache *cache.RedisCache) *ConversationService {
	return &ConversationService{
		convRepo: convRepo,
		cache:    redisCache,
	}
}

// List 用户的对话列表（不含消息体）
func (s *ConversationService) List(ctx context.Context, userID string, limit, offset int64) ([]*chat.Conversation, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	convs, err := s.convRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.convRepo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	return convs, total, nil
}

// Get 对话详情（含全部消息），校验归属
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*chat.Conversation, error) {
	if s.cache != nil {
		var cached chat.Conversation
		if err := s.cache.Get(ctx, cache.ConversationCacheKey(conversationID), &cached); err == nil {
			if cached.UserID != userID {
				return nil, ErrForbidden
			}
			return &cached, nil
		}
	}

	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.ConversationCacheKey(conversationID), conv, cache.ConversationCacheTTL); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to cache conversation")
		}
	}

	return conv, nil
}

// Delete 删除对话，校验归属
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrConversationNotFound
		}
		return err
	}
	if conv.UserID != userID {
		return ErrForbidden
	}

	if err := s.convRepo.Delete(ctx, conversationID); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.ConversationCacheKey(conversationID)); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to evict conversation cache")
		}
	}

	return nil
}

// InvalidateCache 对话有新消息后使缓存失效（由编排服务调用）
func (s *ConversationService) InvalidateCache(ctx context.Context, conversationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.ConversationCacheKey(conversationID)); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to evict conversation cache")
	}
}
