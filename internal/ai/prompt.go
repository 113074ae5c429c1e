package ai

import (
	"github.com/cloudwego/eino/schema"

	"humanoid/internal/model/chat"
)

// DefaultHistoryPairs 上下文窗口默认保留的消息对数（滑动窗口，不做摘要）
const DefaultHistoryPairs = 20

// systemDirective 固定的系统指令：准确优先、明示不确定、拒绝编造，
// 默认回答不超过10行
const systemDirective = `You are Humanoid AI, an advanced AI assistant with the core principle of "No Hallucination".

Your responses must be:
- Accurate and fact-based
- Honest about limitations and uncertainties
- Clear when you don't know something
- Free from made-up information or false claims
- Helpful, professional, and concise

IMPORTANT RESPONSE LENGTH RULE:
- By default, keep your response to 10 lines or less
- If the user asks for a specific number of lines, honor their request
- If the user asks for a detailed, long, or comprehensive answer, you may exceed 10 lines

If you're unsure about something, clearly state your uncertainty rather than guessing or fabricating information.`

// deepDiveDirective 深度模式附加指令：更长、推理更充分的回答
// 只改变系统指令，不改变历史窗口大小
const deepDiveDirective = `

DEEP DIVE MODE:
The user has requested a thorough answer. Take the space you need: reason through
the question step by step, cover relevant alternatives and trade-offs, and explain
your conclusions. The 10-line limit does not apply. Accuracy rules still do.`

// PromptBuilder 组装有界的对话上下文
type PromptBuilder struct {
	historyPairs int
}

// NewPromptBuilder 创建上下文构造器
// historyPairs <= 0 时使用默认窗口
func NewPromptBuilder(historyPairs int) *PromptBuilder {
	if historyPairs <= 0 {
		historyPairs = DefaultHistoryPairs
	}
	return &PromptBuilder{historyPairs: historyPairs}
}

// Build 构造补全消息序列：系统指令 + 最近N对历史消息 + 新的用户消息
// 窗口满时丢弃最旧的消息
func (b *PromptBuilder) Build(history []chat.Message, userMessage string, deepDive bool) []*schema.Message {
	directive := systemDirective
	if deepDive {
		directive += deepDiveDirective
	}

	window := history
	if max := b.historyPairs * 2; len(window) > max {
		window = window[len(window)-max:]
	}

	messages := make([]*schema.Message, 0, len(window)+2)
	messages = append(messages, schema.SystemMessage(directive))

	for _, msg := range window {
		switch msg.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		}
	}

	messages = append(messages, schema.UserMessage(userMessage))
	return messages
}
