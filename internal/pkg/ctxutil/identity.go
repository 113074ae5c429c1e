package ctxutil

import "context"

// 私有key类型避免与其他 context key 冲突
type sessionIDKeyType struct{}
type roleKeyType struct{}

var (
	sessionIDKey = sessionIDKeyType{}
	roleKey      = roleKeyType{}
)

// WithSessionID 将会话标识注入到 context 中
// 会话标识由认证中间件从 JWT claims 中解析，凭证池按它分配 token
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetSessionID 从 context 中解析会话标识
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v := ctx.Value(sessionIDKey)
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// WithRole 将用户角色注入到 context 中
func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, roleKey, role)
}

// GetRole 从 context 中解析用户角色
func GetRole(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v := ctx.Value(roleKey)
	role, ok := v.(string)
	if !ok || role == "" {
		return "", false
	}
	return role, true
}
