package auth

import (
	"time"
)

// RefreshToken 刷新Token实体
// ID和UserID使用UUID格式（string），避免ObjectID转换的麻烦
// ID 同时作为登录会话ID，凭证池的分配以它为粒度
type RefreshToken struct {
	ID        string    `bson:"_id,omitempty" json:"id"`      // UUID格式的ID
	UserID    string    `bson:"user_id" json:"user_id"`       // UUID格式的用户ID
	Token     string    `bson:"token" json:"token"`           // Refresh Token值
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // 过期时间
	CreatedAt time.Time `bson:"created_at" json:"created_at"` // 创建时间
}

// IsExpired 检查Token是否已过期
func (rt *RefreshToken) IsExpired() bool {
	return time.Now().After(rt.ExpiresAt)
}
