package credential

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"humanoid/internal/model/credential"
)

// TokenRepo 凭证仓库
// 使用UUID作为ID，无需ObjectID转换
type TokenRepo struct {
	collection *mongo.Collection
}

// NewTokenRepo 创建凭证仓库
func NewTokenRepo(db *mongo.Database) *TokenRepo {
	return &TokenRepo{
		collection: db.Collection("provider_tokens"),
	}
}

// Create 创建凭证
func (r *TokenRepo) Create(ctx context.Context, token *credential.Token) error {
	now := time.Now()
	token.CreatedAt = now
	token.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, token)
	return err
}

// FindByID 根据ID查询凭证
func (r *TokenRepo) FindByID(ctx context.Context, id string) (*credential.Token, error) {
	var token credential.Token
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&token)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// FindBySecret 根据 secret 查询（用于防止重复录入）
func (r *TokenRepo) FindBySecret(ctx context.Context, secret string) (*credential.Token, error) {
	var token credential.Token
	err := r.collection.FindOne(ctx, bson.M{"secret": secret}).Decode(&token)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// List 查询全部凭证，录入顺序
func (r *TokenRepo) List(ctx context.Context) ([]*credential.Token, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tokens []*credential.Token
	if err := cursor.All(ctx, &tokens); err != nil {
		return nil, err
	}

	return tokens, nil
}

// SetActive 激活/停用凭证
func (r *TokenRepo) SetActive(ctx context.Context, id string, active bool) error {
	update := bson.M{
		"$set": bson.M{
			"active":     active,
			"updated_at": time.Now(),
		},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// Delete 删除凭证
func (r *TokenRepo) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
