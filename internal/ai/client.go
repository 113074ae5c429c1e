package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"humanoid/internal/ai/component"
	"humanoid/internal/config"
)

// Client AI 能力层客户端
// 职责: 封装补全调用；ChatModel 按凭证 secret 缓存，
// 同一凭证的后续调用复用已建好的模型实例
type Client struct {
	cfg *config.AIConfig

	mu     sync.Mutex
	models map[string]model.ChatModel // key: 凭证 secret
}

// NewClient 创建 AI 客户端
func NewClient(cfg *config.AIConfig) *Client {
	return &Client{
		cfg:    cfg,
		models: make(map[string]model.ChatModel),
	}
}

// Complete 同步补全
// secret 是凭证池分配的访问凭证；空回复视为错误
func (c *Client) Complete(ctx context.Context, messages []*schema.Message, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("empty credential secret")
	}

	chatModel, err := c.modelFor(ctx, secret)
	if err != nil {
		return "", fmt.Errorf("create chat model: %w", err)
	}

	resp, err := chatModel.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", errors.New("empty response from chat model")
	}

	return resp.Content, nil
}

// modelFor 返回该 secret 对应的 ChatModel，不存在则创建并缓存
func (c *Client) modelFor(ctx context.Context, secret string) (model.ChatModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[secret]; ok {
		return m, nil
	}

	m, err := component.NewChatModel(ctx, c.cfg, secret)
	if err != nil {
		return nil, err
	}
	c.models[secret] = m
	return m, nil
}

// Evict 移除某个 secret 的缓存模型（凭证删除后调用）
func (c *Client) Evict(secret string) {
	c.mu.Lock()
	delete(c.models, secret)
	c.mu.Unlock()
}
