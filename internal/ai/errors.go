package ai

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Retryable 判断补全调用的错误是否值得换一个凭证重试
// 限流、鉴权失败和网络瞬时错误视为可重试（换 token 往往能解决）；
// 其余（如请求格式错误）视为不可重试
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryableMarks := []string{
		"429",
		"rate limit",
		"too many requests",
		"401",
		"403",
		"unauthorized",
		"invalid api key",
		"quota",
		"timeout",
		"temporarily",
		"connection refused",
		"connection reset",
		"eof",
		"503",
		"502",
	}
	for _, mark := range retryableMarks {
		if strings.Contains(msg, mark) {
			return true
		}
	}
	return false
}
