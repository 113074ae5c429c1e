package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"humanoid/internal/ai"
	"humanoid/internal/config"
	"humanoid/internal/model/business"
	"humanoid/internal/model/chat"
	"humanoid/internal/pkg/id"
	"humanoid/internal/pool"
	"humanoid/internal/semantic"
)

// CredentialPool 凭证池（消费方视角的最小接口）
type CredentialPool interface {
	Acquire(ctx context.Context, sessionID string) (*pool.Lease, error)
	Release(ctx context.Context, sessionID string) error
	MarkUnavailable(tokenID string, d time.Duration)
}

// Completer 补全调用
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message, secret string) (string, error)
}

// ConversationStore 对话持久化
type ConversationStore interface {
	Create(ctx context.Context, conv *chat.Conversation) error
	FindByID(ctx context.Context, id string) (*chat.Conversation, error)
	AppendMessages(ctx context.Context, id string, msgs ...chat.Message) error
}

// Retriever 语义检索
type Retriever interface {
	Query(ctx context.Context, text string, topK int, kindFilter semantic.Kind) ([]semantic.Match, error)
}

// ProductFinder 商品批量查询（检索结果富集）
type ProductFinder interface {
	FindByIDs(ctx context.Context, ids []string) ([]*business.Product, error)
}

// ChatService 对话编排服务
//
// 一次发消息的流程：定位/新建对话 -> 组装上下文 -> 落盘用户消息 ->
// 从池里取凭证 -> 带换凭证重试的补全调用 -> 落盘回复 -> 附加商品检索。
// 用户消息在调用模型之前落盘，池耗尽或模型失败都不会丢
type ChatService struct {
	pool          CredentialPool
	completer     Completer
	convStore     ConversationStore
	retriever     Retriever
	productFinder ProductFinder
	promptBuilder *ai.PromptBuilder

	callTimeout  time.Duration
	cooldown     time.Duration
	maxAttempts  int
	retryBackoff time.Duration
	topK         int
}

// NewChatService 创建对话编排服务
// retriever/productFinder 可为 nil（未配置向量模型时检索整体禁用）
func NewChatService(
	credPool CredentialPool,
	completer Completer,
	convStore ConversationStore,
	retriever Retriever,
	productFinder ProductFinder,
	cfg *config.Config,
) *ChatService {
	callTimeout := cfg.AI.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	retryBackoff := cfg.Chat.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 500 * time.Millisecond
	}

	return &ChatService{
		pool:          credPool,
		completer:     completer,
		convStore:     convStore,
		retriever:     retriever,
		productFinder: productFinder,
		promptBuilder: ai.NewPromptBuilder(cfg.Chat.HistoryPairs),
		callTimeout:   callTimeout,
		cooldown:      cfg.Pool.Cooldown,
		maxAttempts:   cfg.Chat.MaxAttempts,
		retryBackoff:  retryBackoff,
		topK:          cfg.Retrieval.TopK,
	}
}

// MatchedProduct 附加在回复上的相关商品
type MatchedProduct struct {
	Product *business.Product `json:"product"`
	Score   float64           `json:"score"`
}

// SendMessageResult 发消息的结果
type SendMessageResult struct {
	ConversationID   string           `json:"conversation_id"`
	Title            string           `json:"title"`
	UserMessage      chat.Message     `json:"user_message"`
	AssistantMessage chat.Message     `json:"assistant_message"`
	MatchedProducts  []MatchedProduct `json:"matched_products,omitempty"`
}

// SendMessage 处理一条用户消息
// conversationID 为空时新建对话，标题取首条消息截断
func (s *ChatService) SendMessage(ctx context.Context, userID, sessionID, conversationID, message string, deepDive bool) (*SendMessageResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	logger := log.With().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Logger()

	// 1. 定位或新建对话
	conv, err := s.resolveConversation(ctx, userID, conversationID, message)
	if err != nil {
		return nil, err
	}

	// 2. 组装补全上下文（窗口在落盘用户消息之前取，避免重复计入）
	messages := s.promptBuilder.Build(conv.Messages, message, deepDive)

	// 3. 落盘用户消息，先于任何可能失败的外部调用
	userMsg := chat.Message{
		ID:        id.New(),
		Role:      chat.RoleUser,
		Content:   message,
		CreatedAt: time.Now(),
	}
	if err := s.convStore.AppendMessages(ctx, conv.ID, userMsg); err != nil {
		logger.Error().Err(err).Msg("failed to persist user message")
		return nil, err
	}

	// 4. 取凭证并调用模型（失败换凭证重试）
	content, err := s.complete(ctx, sessionID, messages, logger)
	if err != nil {
		return nil, err
	}

	// 5. 落盘回复
	assistantMsg := chat.Message{
		ID:        id.New(),
		Role:      chat.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.convStore.AppendMessages(ctx, conv.ID, assistantMsg); err != nil {
		// 回复已经生成，落盘失败只记录，不让用户白等一次补全
		logger.Error().Err(err).Msg("failed to persist assistant message")
	}

	// 6. 附加商品检索，尽力而为
	matched := s.matchProducts(ctx, message, logger)

	return &SendMessageResult{
		ConversationID:   conv.ID,
		Title:            conv.Title,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		MatchedProducts:  matched,
	}, nil
}

// resolveConversation 定位已有对话（校验归属）或新建
func (s *ChatService) resolveConversation(ctx context.Context, userID, conversationID, firstMessage string) (*chat.Conversation, error) {
	if conversationID == "" {
		conv := &chat.Conversation{
			ID:     id.New(),
			UserID: userID,
			Title:  chat.DeriveTitle(firstMessage),
		}
		if err := s.convStore.Create(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}

	conv, err := s.convStore.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// complete 带换凭证重试的补全调用
//
// 可重试错误（限流/鉴权/网络瞬时）时：把当前 token 冷却、释放会话分配、
// 重新取一个凭证再试，退避时间逐次翻倍。不可重试错误直接失败。
// 模型调用使用与请求生命周期解耦的超时上下文，避免客户端断开把
// 半途的补全一起取消
func (s *ChatService) complete(ctx context.Context, sessionID string, messages []*schema.Message, logger zerolog.Logger) (string, error) {
	lease, err := s.pool.Acquire(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			logger.Warn().Msg("credential pool exhausted")
			return "", ErrPoolExhausted
		}
		return "", err
	}

	backoff := s.retryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
		content, err := s.completer.Complete(callCtx, messages, lease.Secret)
		cancel()

		if err == nil {
			return content, nil
		}
		lastErr = err

		if !ai.Retryable(err) {
			logger.Error().Err(err).Str("token_id", lease.TokenID).Msg("completion failed, not retryable")
			return "", ErrModelCall
		}

		logger.Warn().Err(err).
			Str("token_id", lease.TokenID).
			Int("attempt", attempt).
			Msg("completion failed, rotating credential")

		// 当前凭证冷却并释放，换一个再试
		s.pool.MarkUnavailable(lease.TokenID, s.cooldown)
		if err := s.pool.Release(ctx, sessionID); err != nil {
			logger.Warn().Err(err).Msg("failed to release assignment during retry")
		}

		if attempt == s.maxAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2

		lease, err = s.pool.Acquire(ctx, sessionID)
		if err != nil {
			if errors.Is(err, pool.ErrExhausted) {
				logger.Warn().Msg("credential pool exhausted during retry")
				return "", ErrPoolExhausted
			}
			return "", err
		}
	}

	logger.Error().Err(lastErr).Int("attempts", s.maxAttempts).Msg("completion failed after all attempts")
	return "", ErrModelCall
}

// matchProducts 用用户消息做商品相似检索
// 检索是增值功能，任何失败都不影响对话结果
func (s *ChatService) matchProducts(ctx context.Context, message string, logger zerolog.Logger) []MatchedProduct {
	if s.retriever == nil || s.productFinder == nil || s.topK <= 0 {
		return nil
	}

	matches, err := s.retriever.Query(ctx, message, s.topK, semantic.KindProduct)
	if err != nil {
		logger.Warn().Err(err).Msg("product retrieval failed")
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	ids := make([]string, 0, len(matches))
	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		ids = append(ids, m.EntityID)
		scores[m.EntityID] = m.Score
	}

	products, err := s.productFinder.FindByIDs(ctx, ids)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load matched products")
		return nil
	}

	byID := make(map[string]*business.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	// 按检索顺序（分数降序）排列
	matched := make([]MatchedProduct, 0, len(matches))
	for _, m := range matches {
		if p, ok := byID[m.EntityID]; ok {
			matched = append(matched, MatchedProduct{Product: p, Score: m.Score})
		}
	}
	return matched
}

// ReleaseSession 释放会话持有的凭证分配（退出登录等场景）
func (s *ChatService) ReleaseSession(ctx context.Context, sessionID string) error {
	return s.pool.Release(ctx, sessionID)
}
