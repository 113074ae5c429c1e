package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes 创建所有集合的索引
// 应用启动时统一调用
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	// users 集合索引
	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "username", Value: 1}},
			Options: options.Index().SetName("idx_username").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "email", Value: 1}},
			Options: options.Index().SetName("idx_email").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "role", Value: 1}, bson.E{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_role_status"),
		},
	}
	if err := CreateIndexes(ctx, db.Collection("users"), userIndexes); err != nil {
		return err
	}

	// refresh_tokens 集合索引
	refreshTokenIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_user_id"),
		},
		{
			Keys:    bson.D{bson.E{Key: "token", Value: 1}},
			Options: options.Index().SetName("idx_token").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_expires_at").SetExpireAfterSeconds(0), // TTL索引，自动删除过期token
		},
	}
	if err := CreateIndexes(ctx, db.Collection("refresh_tokens"), refreshTokenIndexes); err != nil {
		return err
	}

	// conversations 集合索引
	convIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}, bson.E{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_user_updated"),
		},
	}
	if err := CreateIndexes(ctx, db.Collection("conversations"), convIndexes); err != nil {
		return err
	}

	// provider_tokens 集合索引
	tokenIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "secret", Value: 1}},
			Options: options.Index().SetName("idx_secret").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "active", Value: 1}},
			Options: options.Index().SetName("idx_active"),
		},
	}
	if err := CreateIndexes(ctx, db.Collection("provider_tokens"), tokenIndexes); err != nil {
		return err
	}

	// token_assignments 集合索引
	assignmentIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "session_id", Value: 1}, bson.E{Key: "active", Value: 1}},
			Options: options.Index().SetName("idx_session_active"),
		},
		{
			Keys:    bson.D{bson.E{Key: "token_id", Value: 1}, bson.E{Key: "active", Value: 1}},
			Options: options.Index().SetName("idx_token_active"),
		},
	}
	if err := CreateIndexes(ctx, db.Collection("token_assignments"), assignmentIndexes); err != nil {
		return err
	}

	// businesses 集合索引（每个用户至多一个商家）
	businessIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_user_id").SetUnique(true),
		},
	}
	if err := CreateIndexes(ctx, db.Collection("businesses"), businessIndexes); err != nil {
		return err
	}

	// products 集合索引
	productIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "business_id", Value: 1}, bson.E{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_business_created"),
		},
	}
	if err := CreateIndexes(ctx, db.Collection("products"), productIndexes); err != nil {
		return err
	}

	// vectors 集合索引（语义索引持久化）
	vectorIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "kind", Value: 1}, bson.E{Key: "entity_id", Value: 1}},
			Options: options.Index().SetName("idx_kind_entity").SetUnique(true),
		},
	}
	return CreateIndexes(ctx, db.Collection("vectors"), vectorIndexes)
}
