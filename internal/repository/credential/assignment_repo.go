package credential

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"humanoid/internal/model/credential"
)

// AssignmentRepo 分配记录仓库，供凭证池写穿透持久化
type AssignmentRepo struct {
	collection *mongo.Collection
}

// NewAssignmentRepo 创建分配记录仓库
func NewAssignmentRepo(db *mongo.Database) *AssignmentRepo {
	return &AssignmentRepo{
		collection: db.Collection("token_assignments"),
	}
}

// InsertAssignment 写入新分配
func (r *AssignmentRepo) InsertAssignment(ctx context.Context, a *credential.Assignment) error {
	_, err := r.collection.InsertOne(ctx, a)
	return err
}

// ReleaseAssignment 标记分配为已释放
func (r *AssignmentRepo) ReleaseAssignment(ctx context.Context, assignmentID string, releasedAt time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"active":      false,
			"released_at": releasedAt,
		},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": assignmentID}, update)
	return err
}

// TouchAssignment 刷新分配的最近使用时间
func (r *AssignmentRepo) TouchAssignment(ctx context.Context, assignmentID string, usedAt time.Time) error {
	update := bson.M{
		"$set": bson.M{"last_used_at": usedAt},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": assignmentID}, update)
	return err
}

// ListActive 查询全部活跃分配（池启动加载用）
func (r *AssignmentRepo) ListActive(ctx context.Context) ([]*credential.Assignment, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var assignments []*credential.Assignment
	if err := cursor.All(ctx, &assignments); err != nil {
		return nil, err
	}

	return assignments, nil
}
