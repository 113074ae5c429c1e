package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	. "github.com/smartystreets/goconvey/convey"

	"humanoid/internal/config"
	"humanoid/internal/model/business"
	"humanoid/internal/model/chat"
	"humanoid/internal/pool"
	"humanoid/internal/semantic"
)

// fakePool 内存凭证池桩
type fakePool struct {
	leases    []*pool.Lease // 依次返回
	next      int
	acquired  []string // 每次 Acquire 返回的 token id
	released  int
	cooled    []string
	exhausted bool
}

func (f *fakePool) Acquire(_ context.Context, _ string) (*pool.Lease, error) {
	if f.exhausted || f.next >= len(f.leases) {
		return nil, pool.ErrExhausted
	}
	lease := f.leases[f.next]
	f.next++
	f.acquired = append(f.acquired, lease.TokenID)
	return lease, nil
}

func (f *fakePool) Release(_ context.Context, _ string) error {
	f.released++
	return nil
}

func (f *fakePool) MarkUnavailable(tokenID string, _ time.Duration) {
	f.cooled = append(f.cooled, tokenID)
}

// fakeCompleter 按 secret 决定成败
type fakeCompleter struct {
	failSecrets map[string]error
	reply       string
	calls       int
}

func (f *fakeCompleter) Complete(_ context.Context, _ []*schema.Message, secret string) (string, error) {
	f.calls++
	if err, ok := f.failSecrets[secret]; ok {
		return "", err
	}
	return f.reply, nil
}

// fakeConvStore 内存对话存储
type fakeConvStore struct {
	convs map[string]*chat.Conversation
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{convs: make(map[string]*chat.Conversation)}
}

func (f *fakeConvStore) Create(_ context.Context, conv *chat.Conversation) error {
	f.convs[conv.ID] = conv
	return nil
}

func (f *fakeConvStore) FindByID(_ context.Context, id string) (*chat.Conversation, error) {
	conv, ok := f.convs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return conv, nil
}

func (f *fakeConvStore) AppendMessages(_ context.Context, id string, msgs ...chat.Message) error {
	conv, ok := f.convs[id]
	if !ok {
		return errors.New("not found")
	}
	conv.Messages = append(conv.Messages, msgs...)
	return nil
}

// fakeRetriever 固定检索结果
type fakeRetriever struct {
	matches []semantic.Match
	err     error
}

func (f *fakeRetriever) Query(_ context.Context, _ string, topK int, _ semantic.Kind) ([]semantic.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

// fakeProductFinder 内存商品查询
type fakeProductFinder struct {
	products map[string]*business.Product
}

func (f *fakeProductFinder) FindByIDs(_ context.Context, ids []string) ([]*business.Product, error) {
	var out []*business.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AI:        config.AIConfig{CallTimeout: time.Second},
		Pool:      config.PoolConfig{Cooldown: time.Minute},
		Chat:      config.ChatConfig{HistoryPairs: 20, MaxAttempts: 3, RetryBackoff: time.Millisecond},
		Retrieval: config.RetrievalConfig{TopK: 4},
	}
}

func TestChatService_SendMessage(t *testing.T) {
	ctx := context.Background()

	Convey("SendMessage 完整流程", t, func() {
		Convey("新对话：取凭证、补全、落盘、附加商品", func() {
			credPool := &fakePool{leases: []*pool.Lease{{TokenID: "t1", Secret: "sk-1", AssignmentID: "a1"}}}
			completer := &fakeCompleter{reply: "这是回复"}
			convStore := newFakeConvStore()
			retriever := &fakeRetriever{matches: []semantic.Match{
				{Kind: semantic.KindProduct, EntityID: "p1", Score: 0.92},
				{Kind: semantic.KindProduct, EntityID: "p2", Score: 0.81},
			}}
			finder := &fakeProductFinder{products: map[string]*business.Product{
				"p1": {ID: "p1", Description: "gaming laptop"},
				"p2": {ID: "p2", Description: "office laptop"},
			}}

			svc := NewChatService(credPool, completer, convStore, retriever, finder, testConfig())

			result, err := svc.SendMessage(ctx, "u1", "s1", "", "I need a laptop", false)
			So(err, ShouldBeNil)
			So(result.ConversationID, ShouldNotBeEmpty)
			So(result.Title, ShouldEqual, "I need a laptop")
			So(result.AssistantMessage.Content, ShouldEqual, "这是回复")

			// 消息落盘：用户 + 助手各一条
			conv := convStore.convs[result.ConversationID]
			So(len(conv.Messages), ShouldEqual, 2)
			So(conv.Messages[0].Role, ShouldEqual, chat.RoleUser)
			So(conv.Messages[1].Role, ShouldEqual, chat.RoleAssistant)

			// 商品按分数降序附加
			So(len(result.MatchedProducts), ShouldEqual, 2)
			So(result.MatchedProducts[0].Product.ID, ShouldEqual, "p1")
			So(result.MatchedProducts[0].Score, ShouldBeGreaterThan, result.MatchedProducts[1].Score)
		})

		Convey("池耗尽：返回错误但用户消息已落盘", func() {
			credPool := &fakePool{exhausted: true}
			completer := &fakeCompleter{reply: "never"}
			convStore := newFakeConvStore()

			svc := NewChatService(credPool, completer, convStore, nil, nil, testConfig())

			_, err := svc.SendMessage(ctx, "u1", "s1", "", "hello", false)
			So(err, ShouldEqual, ErrPoolExhausted)
			So(completer.calls, ShouldEqual, 0)

			// 对话已建，用户消息已落盘
			So(len(convStore.convs), ShouldEqual, 1)
			for _, conv := range convStore.convs {
				So(len(conv.Messages), ShouldEqual, 1)
				So(conv.Messages[0].Role, ShouldEqual, chat.RoleUser)
			}
		})

		Convey("限流：换凭证重试后成功，失败的凭证被冷却", func() {
			credPool := &fakePool{leases: []*pool.Lease{
				{TokenID: "t1", Secret: "sk-1", AssignmentID: "a1"},
				{TokenID: "t2", Secret: "sk-2", AssignmentID: "a2"},
			}}
			completer := &fakeCompleter{
				reply:       "成功的回复",
				failSecrets: map[string]error{"sk-1": errors.New("429 Too Many Requests")},
			}
			convStore := newFakeConvStore()

			svc := NewChatService(credPool, completer, convStore, nil, nil, testConfig())

			result, err := svc.SendMessage(ctx, "u1", "s1", "", "hello", false)
			So(err, ShouldBeNil)
			So(result.AssistantMessage.Content, ShouldEqual, "成功的回复")

			// 第一个凭证被冷却并释放，第二个接棒
			So(credPool.acquired, ShouldResemble, []string{"t1", "t2"})
			So(credPool.cooled, ShouldResemble, []string{"t1"})
			So(credPool.released, ShouldEqual, 1)
			So(completer.calls, ShouldEqual, 2)
		})

		Convey("不可重试错误：立即失败不换凭证", func() {
			credPool := &fakePool{leases: []*pool.Lease{
				{TokenID: "t1", Secret: "sk-1", AssignmentID: "a1"},
				{TokenID: "t2", Secret: "sk-2", AssignmentID: "a2"},
			}}
			completer := &fakeCompleter{
				failSecrets: map[string]error{"sk-1": errors.New("invalid request: messages malformed")},
			}
			convStore := newFakeConvStore()

			svc := NewChatService(credPool, completer, convStore, nil, nil, testConfig())

			_, err := svc.SendMessage(ctx, "u1", "s1", "", "hello", false)
			So(err, ShouldEqual, ErrModelCall)
			So(completer.calls, ShouldEqual, 1)
			So(credPool.cooled, ShouldBeEmpty)
		})

		Convey("全部尝试耗尽后失败", func() {
			credPool := &fakePool{leases: []*pool.Lease{
				{TokenID: "t1", Secret: "sk-1", AssignmentID: "a1"},
				{TokenID: "t2", Secret: "sk-2", AssignmentID: "a2"},
				{TokenID: "t3", Secret: "sk-3", AssignmentID: "a3"},
			}}
			completer := &fakeCompleter{failSecrets: map[string]error{
				"sk-1": errors.New("rate limit exceeded"),
				"sk-2": errors.New("rate limit exceeded"),
				"sk-3": errors.New("rate limit exceeded"),
			}}
			convStore := newFakeConvStore()

			svc := NewChatService(credPool, completer, convStore, nil, nil, testConfig())

			_, err := svc.SendMessage(ctx, "u1", "s1", "", "hello", false)
			So(err, ShouldEqual, ErrModelCall)
			So(completer.calls, ShouldEqual, 3)
			So(credPool.cooled, ShouldResemble, []string{"t1", "t2", "t3"})
		})

		Convey("检索失败不影响对话结果", func() {
			credPool := &fakePool{leases: []*pool.Lease{{TokenID: "t1", Secret: "sk-1", AssignmentID: "a1"}}}
			completer := &fakeCompleter{reply: "回复"}
			convStore := newFakeConvStore()
			retriever := &fakeRetriever{err: errors.New("embedding service down")}
			finder := &fakeProductFinder{}

			svc := NewChatService(credPool, completer, convStore, retriever, finder, testConfig())

			result, err := svc.SendMessage(ctx, "u1", "s1", "", "hello", false)
			So(err, ShouldBeNil)
			So(result.AssistantMessage.Content, ShouldEqual, "回复")
			So(result.MatchedProducts, ShouldBeEmpty)
		})

		Convey("续写已有对话：校验归属", func() {
			credPool := &fakePool{leases: []*pool.Lease{{TokenID: "t1", Secret: "sk-1", AssignmentID: "a1"}}}
			completer := &fakeCompleter{reply: "回复"}
			convStore := newFakeConvStore()
			convStore.convs["c1"] = &chat.Conversation{ID: "c1", UserID: "owner", Title: "已有对话"}

			svc := NewChatService(credPool, completer, convStore, nil, nil, testConfig())

			_, err := svc.SendMessage(ctx, "intruder", "s1", "c1", "hello", false)
			So(err, ShouldEqual, ErrForbidden)

			result, err := svc.SendMessage(ctx, "owner", "s2", "c1", "hello", false)
			So(err, ShouldBeNil)
			So(result.ConversationID, ShouldEqual, "c1")
			So(result.Title, ShouldEqual, "已有对话")
		})

		Convey("空消息被拒绝", func() {
			svc := NewChatService(&fakePool{}, &fakeCompleter{}, newFakeConvStore(), nil, nil, testConfig())

			_, err := svc.SendMessage(ctx, "u1", "s1", "", "   ", false)
			So(err, ShouldEqual, ErrEmptyMessage)
		})
	})
}

func TestChatService_ReleaseSession(t *testing.T) {
	ctx := context.Background()

	Convey("ReleaseSession 释放池分配", t, func() {
		credPool := &fakePool{}
		svc := NewChatService(credPool, &fakeCompleter{}, newFakeConvStore(), nil, nil, testConfig())

		So(svc.ReleaseSession(ctx, "s1"), ShouldBeNil)
		So(credPool.released, ShouldEqual, 1)
	})
}
