package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"humanoid/internal/model/credential"
)

func newToken(id string, capacity int) *credential.Token {
	return &credential.Token{
		ID:       id,
		Secret:   "secret-" + id,
		Name:     "token-" + id,
		Capacity: capacity,
		Active:   true,
	}
}

func TestPool_Acquire(t *testing.T) {
	ctx := context.Background()

	Convey("Acquire 遵守容量上限并保持粘性", t, func() {
		Convey("容量1的单 token 只能分配给一个会话", func() {
			p := New(nil, 1)
			p.AddToken(newToken("t1", 1))

			lease, err := p.Acquire(ctx, "s1")
			So(err, ShouldBeNil)
			So(lease.TokenID, ShouldEqual, "t1")

			_, err = p.Acquire(ctx, "s2")
			So(err, ShouldEqual, ErrExhausted)
		})

		Convey("同一会话重复 Acquire 复用原分配且不增加负载", func() {
			p := New(nil, 1)
			p.AddToken(newToken("t1", 1))

			first, err := p.Acquire(ctx, "s1")
			So(err, ShouldBeNil)

			second, err := p.Acquire(ctx, "s1")
			So(err, ShouldBeNil)
			So(second.AssignmentID, ShouldEqual, first.AssignmentID)
			So(second.TokenID, ShouldEqual, first.TokenID)

			stats := p.Stats()
			So(stats.ActiveAssignments, ShouldEqual, 1)
		})

		Convey("选择负载最少的 token，同负载取 id 最小的", func() {
			p := New(nil, 2)
			p.AddToken(newToken("tb", 2))
			p.AddToken(newToken("ta", 2))

			l1, err := p.Acquire(ctx, "s1")
			So(err, ShouldBeNil)
			So(l1.TokenID, ShouldEqual, "ta")

			l2, err := p.Acquire(ctx, "s2")
			So(err, ShouldBeNil)
			So(l2.TokenID, ShouldEqual, "tb")

			l3, err := p.Acquire(ctx, "s3")
			So(err, ShouldBeNil)
			So(l3.TokenID, ShouldEqual, "ta")
		})

		Convey("停用的 token 不参与新分配", func() {
			p := New(nil, 1)
			p.AddToken(newToken("t1", 1))
			So(p.SetTokenActive("t1", false), ShouldBeNil)

			_, err := p.Acquire(ctx, "s1")
			So(err, ShouldEqual, ErrExhausted)
		})

		Convey("冷却中的 token 不参与新分配，冷却结束后恢复", func() {
			p := New(nil, 1)
			p.AddToken(newToken("t1", 1))
			p.MarkUnavailable("t1", 50*time.Millisecond)

			_, err := p.Acquire(ctx, "s1")
			So(err, ShouldEqual, ErrExhausted)

			time.Sleep(60 * time.Millisecond)
			lease, err := p.Acquire(ctx, "s1")
			So(err, ShouldBeNil)
			So(lease.TokenID, ShouldEqual, "t1")
		})

		Convey("粘着的 token 冷却时放弃旧分配改选其他 token", func() {
			p := New(nil, 1)
			p.AddToken(newToken("t1", 1))
			p.AddToken(newToken("t2", 1))

			first, err := p.Acquire(ctx, "s1")
			So(err, ShouldBeNil)
			So(first.TokenID, ShouldEqual, "t1")

			// 冷却发生在释放之前（释放失败的重试路径）
			p.MarkUnavailable("t1", time.Hour)

			second, err := p.Acquire(ctx, "s1")
			So(err, ShouldBeNil)
			So(second.TokenID, ShouldEqual, "t2")
			So(second.AssignmentID, ShouldNotEqual, first.AssignmentID)

			// 旧分配已释放，没有重复占用
			So(p.Stats().ActiveAssignments, ShouldEqual, 1)
		})

		Convey("粘着的 token 冷却且无备选时耗尽", func() {
			p := New(nil, 1)
			p.AddToken(newToken("t1", 1))

			_, err := p.Acquire(ctx, "s1")
			So(err, ShouldBeNil)

			p.MarkUnavailable("t1", time.Hour)

			_, err = p.Acquire(ctx, "s1")
			So(err, ShouldEqual, ErrExhausted)
			So(p.Stats().ActiveAssignments, ShouldEqual, 0)
		})
	})
}

func TestPool_AcquireConcurrent(t *testing.T) {
	ctx := context.Background()

	Convey("并发 Acquire 不会突破容量", t, func() {
		p := New(nil, 1)
		p.AddToken(newToken("t1", 3))
		p.AddToken(newToken("t2", 3))

		const sessions = 50
		var wg sync.WaitGroup
		var mu sync.Mutex
		granted := 0

		for i := 0; i < sessions; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if _, err := p.Acquire(ctx, sessionID(n)); err == nil {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		// 两个 token 各3并发，最多6个会话拿到分配
		So(granted, ShouldEqual, 6)
		So(p.Stats().ActiveAssignments, ShouldEqual, 6)
	})
}

func sessionID(n int) string {
	return "session-" + string(rune('a'+n%26)) + "-" + string(rune('0'+n/26))
}

func TestPool_Release(t *testing.T) {
	ctx := context.Background()

	Convey("Release 释放容量且幂等", t, func() {
		p := New(nil, 1)
		p.AddToken(newToken("t1", 1))

		_, err := p.Acquire(ctx, "s1")
		So(err, ShouldBeNil)

		Convey("释放后容量可被其他会话使用", func() {
			So(p.Release(ctx, "s1"), ShouldBeNil)

			lease, err := p.Acquire(ctx, "s2")
			So(err, ShouldBeNil)
			So(lease.TokenID, ShouldEqual, "t1")
		})

		Convey("重复释放是空操作", func() {
			So(p.Release(ctx, "s1"), ShouldBeNil)
			So(p.Release(ctx, "s1"), ShouldBeNil)
			So(p.Release(ctx, "never-acquired"), ShouldBeNil)
			So(p.Stats().ActiveAssignments, ShouldEqual, 0)
		})
	})
}

func TestPool_Stats(t *testing.T) {
	ctx := context.Background()

	Convey("Stats 汇总 token 与分配状态", t, func() {
		p := New(nil, 1)
		p.AddToken(newToken("t1", 2))
		p.AddToken(newToken("t2", 1))
		So(p.SetTokenActive("t2", false), ShouldBeNil)

		_, err := p.Acquire(ctx, "s1")
		So(err, ShouldBeNil)

		stats := p.Stats()
		So(stats.Total, ShouldEqual, 2)
		So(stats.Active, ShouldEqual, 1)
		So(stats.Inactive, ShouldEqual, 1)
		So(stats.ActiveAssignments, ShouldEqual, 1)
	})
}

func TestPool_RemoveToken(t *testing.T) {
	ctx := context.Background()

	Convey("RemoveToken 释放该 token 的全部分配", t, func() {
		p := New(nil, 1)
		p.AddToken(newToken("t1", 2))

		_, err := p.Acquire(ctx, "s1")
		So(err, ShouldBeNil)
		_, err = p.Acquire(ctx, "s2")
		So(err, ShouldBeNil)

		removed, err := p.RemoveToken(ctx, "t1")
		So(err, ShouldBeNil)
		So(removed.ID, ShouldEqual, "t1")

		stats := p.Stats()
		So(stats.Total, ShouldEqual, 0)
		So(stats.ActiveAssignments, ShouldEqual, 0)

		Convey("移除不存在的 token 返回错误", func() {
			_, err := p.RemoveToken(ctx, "unknown")
			So(err, ShouldEqual, ErrTokenNotFound)
		})
	})
}

func TestPool_Load(t *testing.T) {
	ctx := context.Background()

	Convey("Load 恢复活跃分配并计入负载", t, func() {
		p := New(nil, 1)
		p.Load(
			[]*credential.Token{newToken("t1", 1)},
			[]*credential.Assignment{
				{ID: "a1", TokenID: "t1", SessionID: "s1", Active: true, LastUsedAt: time.Now()},
			},
		)

		// s1 的粘性分配被恢复
		lease, err := p.Acquire(ctx, "s1")
		So(err, ShouldBeNil)
		So(lease.AssignmentID, ShouldEqual, "a1")

		// t1 容量已被 s1 占满
		_, err = p.Acquire(ctx, "s2")
		So(err, ShouldEqual, ErrExhausted)
	})
}

func TestPool_Sweep(t *testing.T) {
	ctx := context.Background()

	Convey("Sweep 回收超时未使用的分配", t, func() {
		p := New(nil, 1)
		p.AddToken(newToken("t1", 2))

		_, err := p.Acquire(ctx, "s1")
		So(err, ShouldBeNil)
		_, err = p.Acquire(ctx, "s2")
		So(err, ShouldBeNil)

		Convey("ttl 为0时全部分配视为过期", func() {
			time.Sleep(time.Millisecond)
			reclaimed := p.Sweep(ctx, 0)
			So(reclaimed, ShouldEqual, 2)
			So(p.Stats().ActiveAssignments, ShouldEqual, 0)
		})

		Convey("ttl 足够长时不回收", func() {
			reclaimed := p.Sweep(ctx, time.Hour)
			So(reclaimed, ShouldEqual, 0)
			So(p.Stats().ActiveAssignments, ShouldEqual, 2)
		})
	})
}
