package credential

import (
	"time"
)

// Token 外部补全服务的访问凭证，稀缺共享资源
// Secret 创建后不再返回，只以掩码预览形式出现在管理接口中
type Token struct {
	ID        string    `bson:"_id,omitempty" json:"id"` // UUID格式的ID
	Secret    string    `bson:"secret" json:"-"`
	Name      string    `bson:"name" json:"name"`
	Capacity  int       `bson:"capacity" json:"capacity"` // 并发分配上限C，默认1（独占）
	Active    bool      `bson:"active" json:"active"`
	CreatedBy string    `bson:"created_by" json:"created_by"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// MaskedSecret 返回掩码后的 secret 预览（前10位 + 省略号）
func (t *Token) MaskedSecret() string {
	runes := []rune(t.Secret)
	if len(runes) <= 10 {
		return string(runes)
	}
	return string(runes[:10]) + "..."
}

// Assignment token 与会话的绑定，会话的对话生命周期内有效
type Assignment struct {
	ID         string     `bson:"_id,omitempty" json:"id"` // UUID格式的ID
	TokenID    string     `bson:"token_id" json:"token_id"`
	SessionID  string     `bson:"session_id" json:"session_id"`
	AssignedAt time.Time  `bson:"assigned_at" json:"assigned_at"`
	ReleasedAt *time.Time `bson:"released_at,omitempty" json:"released_at,omitempty"` // nil = 仍持有
	Active     bool       `bson:"active" json:"active"`
	LastUsedAt time.Time  `bson:"last_used_at" json:"last_used_at"` // 后台回收的依据
}
