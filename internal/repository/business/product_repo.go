package business

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"humanoid/internal/model/business"
)

// ProductRepo 商品仓库
type ProductRepo struct {
	collection *mongo.Collection
}

// NewProductRepo 创建商品仓库
func NewProductRepo(db *mongo.Database) *ProductRepo {
	return &ProductRepo{
		collection: db.Collection("products"),
	}
}

// Create 创建商品
func (r *ProductRepo) Create(ctx context.Context, p *business.Product) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Images == nil {
		p.Images = []business.ProductImage{}
	}

	_, err := r.collection.InsertOne(ctx, p)
	return err
}

// FindByID 根据ID查询商品
func (r *ProductRepo) FindByID(ctx context.Context, id string) (*business.Product, error) {
	var p business.Product
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByIDs 批量查询商品（检索结果富集用）
func (r *ProductRepo) FindByIDs(ctx context.Context, ids []string) ([]*business.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var products []*business.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}

	return products, nil
}

// ListByBusinessID 查询商家的商品列表
func (r *ProductRepo) ListByBusinessID(ctx context.Context, businessID string) ([]*business.Product, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"business_id": businessID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var products []*business.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}

	return products, nil
}

// CountByBusinessID 商家商品数（上限校验用）
func (r *ProductRepo) CountByBusinessID(ctx context.Context, businessID string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"business_id": businessID})
}

// Update 更新商品
func (r *ProductRepo) Update(ctx context.Context, id string, update bson.M) error {
	if setDoc, ok := update["$set"].(bson.M); ok {
		setDoc["updated_at"] = time.Now()
	} else {
		update["$set"] = bson.M{"updated_at": time.Now()}
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// Delete 删除商品
func (r *ProductRepo) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// DeleteByBusinessID 删除商家的全部商品
func (r *ProductRepo) DeleteByBusinessID(ctx context.Context, businessID string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"business_id": businessID})
	return err
}
