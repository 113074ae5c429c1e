package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

// CreateIndexes 辅助函数：创建索引
// 用于简化索引创建逻辑
func CreateIndexes(ctx context.Context, coll *mongo.Collection, indexes []mongo.IndexModel) error {
	if len(indexes) == 0 {
		return nil
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// CreateIndex 辅助函数：创建单个索引
func CreateIndex(ctx context.Context, coll *mongo.Collection, index mongo.IndexModel) error {
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}
