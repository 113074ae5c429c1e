package semantic

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeEmbedder 把预置文本映射到固定向量，未知文本返回零向量
type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out = append(out, v)
			continue
		}
		out = append(out, []float64{0.001, 0.001, 0.001})
	}
	return out, nil
}

func newTestIndex(minScore float64) *Index {
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"laptop store":      {1, 0, 0},
		"gaming laptop":     {0.9, 0.1, 0},
		"office laptop":     {0.8, 0.2, 0},
		"fresh vegetables":  {0, 1, 0},
		"organic tomatoes":  {0, 0.9, 0.1},
		"I need a laptop":   {1, 0.05, 0},
		"something to cook": {0, 0.95, 0.05},
	}}
	return NewIndex(embedder, nil, minScore)
}

func TestIndex_Query(t *testing.T) {
	ctx := context.Background()

	Convey("Query 按相似度返回 top-k 结果", t, func() {
		idx := newTestIndex(0.3)
		So(idx.Upsert(ctx, KindBusiness, "b1", "laptop store"), ShouldBeNil)
		So(idx.Upsert(ctx, KindProduct, "p1", "gaming laptop"), ShouldBeNil)
		So(idx.Upsert(ctx, KindProduct, "p2", "office laptop"), ShouldBeNil)
		So(idx.Upsert(ctx, KindProduct, "p3", "organic tomatoes"), ShouldBeNil)

		Convey("结果按分数降序，不相关的条目被阈值过滤", func() {
			matches, err := idx.Query(ctx, "I need a laptop", 10, KindProduct)
			So(err, ShouldBeNil)
			So(len(matches), ShouldEqual, 2)
			So(matches[0].EntityID, ShouldEqual, "p1")
			So(matches[1].EntityID, ShouldEqual, "p2")
			So(matches[0].Score, ShouldBeGreaterThan, matches[1].Score)
		})

		Convey("topK 截断结果", func() {
			matches, err := idx.Query(ctx, "I need a laptop", 1, KindProduct)
			So(err, ShouldBeNil)
			So(len(matches), ShouldEqual, 1)
			So(matches[0].EntityID, ShouldEqual, "p1")
		})

		Convey("kind 过滤只返回指定类型", func() {
			matches, err := idx.Query(ctx, "I need a laptop", 10, KindBusiness)
			So(err, ShouldBeNil)
			So(len(matches), ShouldEqual, 1)
			So(matches[0].EntityID, ShouldEqual, "b1")
		})

		Convey("不过滤时两种类型都返回", func() {
			matches, err := idx.Query(ctx, "I need a laptop", 10, "")
			So(err, ShouldBeNil)
			So(len(matches), ShouldEqual, 3)
		})

		Convey("没有命中时返回空结果而非错误", func() {
			matches, err := idx.Query(ctx, "something to cook", 10, KindBusiness)
			So(err, ShouldBeNil)
			So(matches, ShouldBeEmpty)
		})

		Convey("topK 非正时直接返回空", func() {
			matches, err := idx.Query(ctx, "I need a laptop", 0, "")
			So(err, ShouldBeNil)
			So(matches, ShouldBeEmpty)
		})
	})
}

func TestIndex_QueryDeterminism(t *testing.T) {
	ctx := context.Background()

	Convey("同分结果按 entity id 升序，重复查询结果一致", t, func() {
		embedder := &fakeEmbedder{vectors: map[string][]float64{
			"same":  {1, 0, 0},
			"query": {1, 0, 0},
		}}
		idx := NewIndex(embedder, nil, 0.5)
		So(idx.Upsert(ctx, KindProduct, "p-c", "same"), ShouldBeNil)
		So(idx.Upsert(ctx, KindProduct, "p-a", "same"), ShouldBeNil)
		So(idx.Upsert(ctx, KindProduct, "p-b", "same"), ShouldBeNil)

		first, err := idx.Query(ctx, "query", 3, KindProduct)
		So(err, ShouldBeNil)
		So(len(first), ShouldEqual, 3)
		So(first[0].EntityID, ShouldEqual, "p-a")
		So(first[1].EntityID, ShouldEqual, "p-b")
		So(first[2].EntityID, ShouldEqual, "p-c")

		for i := 0; i < 5; i++ {
			again, err := idx.Query(ctx, "query", 3, KindProduct)
			So(err, ShouldBeNil)
			So(again, ShouldResemble, first)
		}
	})
}

func TestIndex_UpsertDelete(t *testing.T) {
	ctx := context.Background()

	Convey("Upsert 覆盖旧向量，Delete 移除条目", t, func() {
		idx := newTestIndex(0.3)
		So(idx.Upsert(ctx, KindProduct, "p1", "gaming laptop"), ShouldBeNil)
		So(idx.Size(), ShouldEqual, 1)

		Convey("同一实体重复 Upsert 覆盖而不是新增", func() {
			So(idx.Upsert(ctx, KindProduct, "p1", "fresh vegetables"), ShouldBeNil)
			So(idx.Size(), ShouldEqual, 1)

			matches, err := idx.Query(ctx, "something to cook", 10, KindProduct)
			So(err, ShouldBeNil)
			So(len(matches), ShouldEqual, 1)
			So(matches[0].EntityID, ShouldEqual, "p1")
		})

		Convey("Delete 后不再出现在结果中", func() {
			So(idx.Delete(ctx, KindProduct, "p1"), ShouldBeNil)
			So(idx.Size(), ShouldEqual, 0)

			matches, err := idx.Query(ctx, "I need a laptop", 10, KindProduct)
			So(err, ShouldBeNil)
			So(matches, ShouldBeEmpty)
		})

		Convey("Delete 不存在的条目是空操作", func() {
			So(idx.Delete(ctx, KindBusiness, "missing"), ShouldBeNil)
			So(idx.Size(), ShouldEqual, 1)
		})

		Convey("非法 kind 被拒绝", func() {
			err := idx.Upsert(ctx, Kind("category"), "x", "text")
			So(err, ShouldNotBeNil)
		})
	})
}
