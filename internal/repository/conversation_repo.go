package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"humanoid/internal/model/chat"
)

// ConversationRepo 对话仓库
type ConversationRepo struct {
	collection *mongo.Collection
}

// NewConversationRepo 创建对话仓库
func NewConversationRepo(db *mongo.Database) *ConversationRepo {
	return &ConversationRepo{
		collection: db.Collection("conversations"),
	}
}

// Create 创建对话
func (r *ConversationRepo) Create(ctx context.Context, conv *chat.Conversation) error {
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = time.Now()
	if conv.Messages == nil {
		conv.Messages = []chat.Message{}
	}

	_, err := r.collection.InsertOne(ctx, conv)
	return err
}

// FindByID 根据 ID 查询（含全部消息）
func (r *ConversationRepo) FindByID(ctx context.Context, id string) (*chat.Conversation, error) {
	var conv chat.Conversation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessages 按顺序追加消息并刷新 updated_at
func (r *ConversationRepo) AppendMessages(ctx context.Context, id string, msgs ...chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": msgs}},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	_, err := r.collection.UpdateByID(ctx, id, update)
	return err
}

// ListByUserID 查询用户对话列表，按最近更新排序，不携带消息体
func (r *ConversationRepo) ListByUserID(ctx context.Context, userID string, limit, offset int64) ([]*chat.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "updated_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset).
		SetProjection(bson.M{"messages": 0})

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []*chat.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}

	return convs, nil
}

// CountByUserID 用户对话总数（分页用）
func (r *ConversationRepo) CountByUserID(ctx context.Context, userID string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"user_id": userID})
}

// Delete 删除对话
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
