package semantic

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"humanoid/internal/semantic"
)

// VectorRepo 向量持久化仓库，实现语义索引的存储接口
type VectorRepo struct {
	collection *mongo.Collection
}

// NewVectorRepo 创建向量仓库
func NewVectorRepo(db *mongo.Database) *VectorRepo {
	return &VectorRepo{
		collection: db.Collection("vectors"),
	}
}

// Upsert 按 (kind, entity_id) 覆盖写入
func (r *VectorRepo) Upsert(ctx context.Context, rec *semantic.Record) error {
	filter := bson.M{"kind": rec.Kind, "entity_id": rec.EntityID}
	opts := options.Replace().SetUpsert(true)

	_, err := r.collection.ReplaceOne(ctx, filter, rec, opts)
	return err
}

// Delete 删除条目
func (r *VectorRepo) Delete(ctx context.Context, kind semantic.Kind, entityID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"kind": kind, "entity_id": entityID})
	return err
}

// LoadAll 加载全量向量（索引启动时调用）
func (r *VectorRepo) LoadAll(ctx context.Context) ([]*semantic.Record, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*semantic.Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	return records, nil
}
