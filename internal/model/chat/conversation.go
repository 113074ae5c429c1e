package chat

import (
	"strings"
	"time"
)

// Conversation 对话实体
// 消息内嵌在文档中，追加写入，插入顺序即语义顺序
type Conversation struct {
	ID        string    `bson:"_id,omitempty" json:"id"` // UUID格式的ID
	UserID    string    `bson:"user_id" json:"user_id"`
	Title     string    `bson:"title" json:"title"`
	Messages  []Message `bson:"messages" json:"messages"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Message 消息，持久化后不可变
type Message struct {
	ID        string    `bson:"id" json:"id"`
	Role      Role      `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Role 消息角色（封闭的双值标签）
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid 检查角色是否有效
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// TitleMaxRunes 新对话标题的最大长度（取首条用户消息截断）
const TitleMaxRunes = 50

// DeriveTitle 从首条用户消息推导对话标题（去首尾空白，按 rune 截断）
func DeriveTitle(firstMessage string) string {
	trimmed := strings.TrimSpace(firstMessage)
	runes := []rune(trimmed)
	if len(runes) <= TitleMaxRunes {
		return trimmed
	}
	return string(runes[:TitleMaxRunes])
}
