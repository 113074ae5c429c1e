package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog/log"
)

// Kind 向量条目的实体类型（封闭的双值标签）
type Kind string

const (
	KindBusiness Kind = "business"
	KindProduct  Kind = "product"
)

// IsValid 检查实体类型是否有效
func (k Kind) IsValid() bool {
	return k == KindBusiness || k == KindProduct
}

// Record 持久化的向量条目
type Record struct {
	Kind      Kind      `bson:"kind"`
	EntityID  string    `bson:"entity_id"`
	Vector    []float64 `bson:"vector"`
	Text      string    `bson:"text"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Match 一条检索结果
type Match struct {
	Kind     Kind    `json:"kind"`
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// Store 向量持久化
// Index 启动时加载全量，之后写入与内存状态同步
type Store interface {
	Upsert(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, kind Kind, entityID string) error
	LoadAll(ctx context.Context) ([]*Record, error)
}

type entryKey struct {
	kind Kind
	id   string
}

// Index 商家与商品描述的语义索引
// 向量常驻内存，余弦相似度在进程内计算；与凭证池互不依赖
type Index struct {
	embedder embedding.Embedder
	store    Store // 可为 nil（纯内存，测试用）
	minScore float64

	mu      sync.RWMutex
	entries map[entryKey][]float64
}

// NewIndex 创建语义索引
// minScore 是相关性阈值，低于它的结果被丢弃
func NewIndex(embedder embedding.Embedder, store Store, minScore float64) *Index {
	return &Index{
		embedder: embedder,
		store:    store,
		minScore: minScore,
		entries:  make(map[entryKey][]float64),
	}
}

// Load 从持久化存储加载全量向量
func (idx *Index) Load(ctx context.Context) error {
	if idx.store == nil {
		return nil
	}

	records, err := idx.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, rec := range records {
		idx.entries[entryKey{kind: rec.Kind, id: rec.EntityID}] = rec.Vector
	}

	log.Info().Int("count", len(records)).Msg("semantic index loaded")
	return nil
}

// Upsert 计算文本向量并写入/覆盖 (kind, entityID) 的条目
func (idx *Index) Upsert(ctx context.Context, kind Kind, entityID, text string) error {
	if !kind.IsValid() {
		return fmt.Errorf("invalid entity kind: %s", kind)
	}

	vector, err := idx.embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed text: %w", err)
	}

	if idx.store != nil {
		rec := &Record{
			Kind:      kind,
			EntityID:  entityID,
			Vector:    vector,
			Text:      text,
			UpdatedAt: time.Now(),
		}
		if err := idx.store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("persist vector: %w", err)
		}
	}

	idx.mu.Lock()
	idx.entries[entryKey{kind: kind, id: entityID}] = vector
	idx.mu.Unlock()

	return nil
}

// Delete 移除条目；条目不存在时是空操作
func (idx *Index) Delete(ctx context.Context, kind Kind, entityID string) error {
	if idx.store != nil {
		if err := idx.store.Delete(ctx, kind, entityID); err != nil {
			return fmt.Errorf("delete vector: %w", err)
		}
	}

	idx.mu.Lock()
	delete(idx.entries, entryKey{kind: kind, id: entityID})
	idx.mu.Unlock()

	return nil
}

// Query 对查询文本做相似度检索
// kindFilter 为空表示不过滤；结果按分数降序，
// 同分按 entity id 升序，保证确定性；没有结果不算错误
func (idx *Index) Query(ctx context.Context, text string, topK int, kindFilter Kind) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVec, err := idx.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.RLock()
	matches := make([]Match, 0, len(idx.entries))
	for key, vec := range idx.entries {
		if kindFilter != "" && key.kind != kindFilter {
			continue
		}
		score := cosine(queryVec, vec)
		if score < idx.minScore {
			continue
		}
		matches = append(matches, Match{Kind: key.kind, EntityID: key.id, Score: score})
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].EntityID < matches[j].EntityID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Size 当前条目数（用于观测）
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// embed 调用向量模型
func (idx *Index) embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := idx.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned empty vector")
	}
	return vectors[0], nil
}

// cosine 余弦相似度；维度不一致或零向量返回0
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
