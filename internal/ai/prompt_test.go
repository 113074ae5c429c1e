package ai

import (
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	. "github.com/smartystreets/goconvey/convey"

	"humanoid/internal/model/chat"
)

func makeHistory(pairs int) []chat.Message {
	history := make([]chat.Message, 0, pairs*2)
	for i := 0; i < pairs; i++ {
		history = append(history,
			chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("question %d", i)},
			chat.Message{Role: chat.RoleAssistant, Content: fmt.Sprintf("answer %d", i)},
		)
	}
	return history
}

func TestPromptBuilder_Build(t *testing.T) {
	Convey("Build 组装 系统指令+历史窗口+用户消息", t, func() {
		builder := NewPromptBuilder(20)

		Convey("无历史时只有系统指令和用户消息", func() {
			messages := builder.Build(nil, "hello", false)
			So(len(messages), ShouldEqual, 2)
			So(messages[0].Role, ShouldEqual, schema.System)
			So(messages[1].Role, ShouldEqual, schema.User)
			So(messages[1].Content, ShouldEqual, "hello")
		})

		Convey("历史不超窗口时全部保留且顺序不变", func() {
			history := makeHistory(3)
			messages := builder.Build(history, "next", false)
			So(len(messages), ShouldEqual, 8)
			So(messages[1].Content, ShouldEqual, "question 0")
			So(messages[2].Role, ShouldEqual, schema.Assistant)
			So(messages[7].Content, ShouldEqual, "next")
		})

		Convey("历史超窗口时丢弃最旧的消息", func() {
			history := makeHistory(25)
			messages := builder.Build(history, "next", false)
			// 系统指令 + 20对 + 新用户消息
			So(len(messages), ShouldEqual, 42)
			So(messages[1].Content, ShouldEqual, "question 5")
			So(messages[40].Content, ShouldEqual, "answer 24")
		})

		Convey("深度模式附加指令但不改变窗口", func() {
			history := makeHistory(25)
			normal := builder.Build(history, "next", false)
			deep := builder.Build(history, "next", true)

			So(len(deep), ShouldEqual, len(normal))
			So(deep[0].Content, ShouldContainSubstring, "DEEP DIVE MODE")
			So(normal[0].Content, ShouldNotContainSubstring, "DEEP DIVE MODE")
			So(deep[1].Content, ShouldEqual, normal[1].Content)
		})

		Convey("非正的窗口参数回退到默认值", func() {
			b := NewPromptBuilder(0)
			history := makeHistory(30)
			messages := b.Build(history, "next", false)
			So(len(messages), ShouldEqual, DefaultHistoryPairs*2+2)
		})
	})
}

func TestDeriveTitle(t *testing.T) {
	Convey("DeriveTitle 从首条消息截取标题", t, func() {
		Convey("短消息原样作为标题", func() {
			So(chat.DeriveTitle("帮我推荐一台笔记本"), ShouldEqual, "帮我推荐一台笔记本")
		})

		Convey("超过50个字符按 rune 截断", func() {
			long := ""
			for i := 0; i < 60; i++ {
				long += "字"
			}
			title := chat.DeriveTitle(long)
			So(len([]rune(title)), ShouldEqual, chat.TitleMaxRunes)
		})

		Convey("首尾空白被去除", func() {
			So(chat.DeriveTitle("  hello  "), ShouldEqual, "hello")
		})
	})
}
