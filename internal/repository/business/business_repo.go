package business

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"humanoid/internal/model/business"
)

// BusinessRepo 商家仓库
// 使用UUID作为ID，无需ObjectID转换
type BusinessRepo struct {
	collection *mongo.Collection
}

// NewBusinessRepo 创建商家仓库
func NewBusinessRepo(db *mongo.Database) *BusinessRepo {
	return &BusinessRepo{
		collection: db.Collection("businesses"),
	}
}

// Create 创建商家
func (r *BusinessRepo) Create(ctx context.Context, b *business.Business) error {
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, b)
	return err
}

// FindByID 根据ID查询商家
func (r *BusinessRepo) FindByID(ctx context.Context, id string) (*business.Business, error) {
	var b business.Business
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindByIDs 批量查询商家（检索结果富集用）
func (r *BusinessRepo) FindByIDs(ctx context.Context, ids []string) ([]*business.Business, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var businesses []*business.Business
	if err := cursor.All(ctx, &businesses); err != nil {
		return nil, err
	}

	return businesses, nil
}

// FindByUserID 查询用户名下的商家（每个用户至多一个）
func (r *BusinessRepo) FindByUserID(ctx context.Context, userID string) (*business.Business, error) {
	var b business.Business
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Update 更新商家
func (r *BusinessRepo) Update(ctx context.Context, id string, update bson.M) error {
	if setDoc, ok := update["$set"].(bson.M); ok {
		setDoc["updated_at"] = time.Now()
	} else {
		update["$set"] = bson.M{"updated_at": time.Now()}
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// Delete 删除商家
func (r *BusinessRepo) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
