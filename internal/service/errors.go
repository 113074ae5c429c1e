package service

import "errors"

var (
	// 对话
	ErrConversationNotFound = errors.New("对话不存在")
	ErrForbidden            = errors.New("无权访问该资源")
	ErrEmptyMessage         = errors.New("消息内容不能为空")
	ErrPoolExhausted        = errors.New("服务繁忙，暂无可用凭证，请稍后重试")
	ErrModelCall            = errors.New("AI 服务暂时不可用，请稍后重试")

	// 凭证管理
	ErrTokenNotFound    = errors.New("凭证不存在")
	ErrTokenDuplicate   = errors.New("凭证已存在")
	ErrTokenSecretEmpty = errors.New("凭证 secret 不能为空")

	// 商家与商品
	ErrBusinessNotFound     = errors.New("商家不存在")
	ErrBusinessExists       = errors.New("每个账号只能创建一个商家")
	ErrProductNotFound      = errors.New("商品不存在")
	ErrProductLimitExceeded = errors.New("商品数量已达上限")
	ErrInvalidUpload        = errors.New("上传文件不合法")
	ErrIndexUnavailable     = errors.New("语义检索暂不可用")
)
