package component

import (
	"context"
	"fmt"

	arkEmbed "github.com/cloudwego/eino-ext/components/embedding/ark"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"humanoid/internal/config"
)

// NewEmbedder 创建向量模型
// 支持 Provider: openai, ark
func NewEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "openai", "":
		embedCfg := &openaiEmbed.EmbeddingConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		}
		if cfg.BaseURL != "" {
			embedCfg.BaseURL = cfg.BaseURL
		}
		return openaiEmbed.NewEmbedder(ctx, embedCfg)
	case "ark":
		embedCfg := &arkEmbed.EmbeddingConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		}
		if cfg.BaseURL != "" {
			embedCfg.BaseURL = cfg.BaseURL
		}
		return arkEmbed.NewEmbedder(ctx, embedCfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
