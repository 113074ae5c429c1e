package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"humanoid/internal/model/business"
	"humanoid/internal/pkg/storage"
	"humanoid/internal/semantic"
)

// fakeBusinessStore 内存商家存储
type fakeBusinessStore struct {
	byUser map[string]*business.Business
}

func newFakeBusinessStore() *fakeBusinessStore {
	return &fakeBusinessStore{byUser: make(map[string]*business.Business)}
}

func (f *fakeBusinessStore) Create(_ context.Context, b *business.Business) error {
	f.byUser[b.UserID] = b
	return nil
}

func (f *fakeBusinessStore) FindByUserID(_ context.Context, userID string) (*business.Business, error) {
	b, ok := f.byUser[userID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return b, nil
}

func (f *fakeBusinessStore) FindByIDs(_ context.Context, ids []string) ([]*business.Business, error) {
	var out []*business.Business
	for _, id := range ids {
		for _, b := range f.byUser {
			if b.ID == id {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func (f *fakeBusinessStore) Update(_ context.Context, _ string, _ bson.M) error { return nil }

func (f *fakeBusinessStore) Delete(_ context.Context, id string) error {
	for userID, b := range f.byUser {
		if b.ID == id {
			delete(f.byUser, userID)
		}
	}
	return nil
}

// fakeProductStore 内存商品存储
type fakeProductStore struct {
	products map[string]*business.Product
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{products: make(map[string]*business.Product)}
}

func (f *fakeProductStore) Create(_ context.Context, p *business.Product) error {
	f.products[p.ID] = p
	return nil
}

func (f *fakeProductStore) FindByID(_ context.Context, id string) (*business.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return p, nil
}

func (f *fakeProductStore) FindByIDs(_ context.Context, ids []string) ([]*business.Product, error) {
	var out []*business.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProductStore) ListByBusinessID(_ context.Context, businessID string) ([]*business.Product, error) {
	var out []*business.Product
	for _, p := range f.products {
		if p.BusinessID == businessID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProductStore) CountByBusinessID(_ context.Context, businessID string) (int64, error) {
	var n int64
	for _, p := range f.products {
		if p.BusinessID == businessID {
			n++
		}
	}
	return n, nil
}

func (f *fakeProductStore) Update(_ context.Context, _ string, _ bson.M) error { return nil }

func (f *fakeProductStore) Delete(_ context.Context, id string) error {
	delete(f.products, id)
	return nil
}

func (f *fakeProductStore) DeleteByBusinessID(_ context.Context, businessID string) error {
	for id, p := range f.products {
		if p.BusinessID == businessID {
			delete(f.products, id)
		}
	}
	return nil
}

// fakeIndexer 记录向量写入
type fakeIndexer struct {
	upserts []string // kind:entityID
	deletes []string
}

func (f *fakeIndexer) Upsert(_ context.Context, kind semantic.Kind, entityID, _ string) error {
	f.upserts = append(f.upserts, string(kind)+":"+entityID)
	return nil
}

func (f *fakeIndexer) Delete(_ context.Context, kind semantic.Kind, entityID string) error {
	f.deletes = append(f.deletes, string(kind)+":"+entityID)
	return nil
}

// fakeObjectStore 记录上传key的对象存储桩
type fakeObjectStore struct {
	uploaded []string
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, data io.Reader, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", err
	}
	f.uploaded = append(f.uploaded, key)
	return "https://cdn.test/" + key, nil
}

func (f *fakeObjectStore) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, errors.New("not supported")
}

func (f *fakeObjectStore) GetPresignedUploadURL(_ context.Context, key string, _ string, _ time.Duration) (string, error) {
	return "https://cdn.test/" + key, nil
}

func (f *fakeObjectStore) GetPresignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.test/" + key, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, _ string) error { return nil }

func (f *fakeObjectStore) Exists(_ context.Context, _ string) (bool, error) { return false, nil }

func (f *fakeObjectStore) GetFileInfo(_ context.Context, _ string) (*storage.FileInfo, error) {
	return nil, errors.New("not supported")
}

func (f *fakeObjectStore) GetStorageType() string { return "fake" }

func newBizService(bizStore *fakeBusinessStore, prodStore *fakeProductStore, retriever Retriever) (*BusinessService, *fakeIndexer, *fakeObjectStore) {
	indexer := &fakeIndexer{}
	objStore := &fakeObjectStore{}
	return NewBusinessService(bizStore, prodStore, indexer, retriever, objStore), indexer, objStore
}

func testImage(size int) ImageUpload {
	return ImageUpload{
		Filename:    "img.png",
		ContentType: "image/png",
		Size:        int64(size),
		Data:        strings.NewReader(strings.Repeat("x", size)),
	}
}

func seedBusiness(bizStore *fakeBusinessStore, userID, bizID string) {
	bizStore.byUser[userID] = &business.Business{ID: bizID, UserID: userID, Description: "本地咖啡馆"}
}

func TestBusinessService_CreateProduct(t *testing.T) {
	ctx := context.Background()

	Convey("CreateProduct 强制图片数量与大小边界", t, func() {
		bizStore := newFakeBusinessStore()
		prodStore := newFakeProductStore()
		svc, indexer, objStore := newBizService(bizStore, prodStore, nil)
		seedBusiness(bizStore, "u1", "b1")

		Convey("不带图片被拒绝，商品不落盘不进索引", func() {
			_, err := svc.CreateProduct(ctx, "u1", "手冲咖啡豆", nil)
			So(errors.Is(err, ErrInvalidUpload), ShouldBeTrue)
			So(prodStore.products, ShouldBeEmpty)
			So(indexer.upserts, ShouldBeEmpty)
			So(objStore.uploaded, ShouldBeEmpty)
		})

		Convey("超过4张被拒绝", func() {
			images := []ImageUpload{testImage(100), testImage(100), testImage(100), testImage(100), testImage(100)}
			_, err := svc.CreateProduct(ctx, "u1", "手冲咖啡豆", images)
			So(errors.Is(err, ErrInvalidUpload), ShouldBeTrue)
			So(prodStore.products, ShouldBeEmpty)
		})

		Convey("图片总大小超过1MiB被拒绝", func() {
			images := []ImageUpload{testImage(600 << 10), testImage(500 << 10)}
			_, err := svc.CreateProduct(ctx, "u1", "手冲咖啡豆", images)
			So(errors.Is(err, ErrInvalidUpload), ShouldBeTrue)
			So(prodStore.products, ShouldBeEmpty)
		})

		Convey("非图片类型被拒绝", func() {
			img := testImage(100)
			img.ContentType = "application/pdf"
			_, err := svc.CreateProduct(ctx, "u1", "手冲咖啡豆", []ImageUpload{img})
			So(errors.Is(err, ErrInvalidUpload), ShouldBeTrue)
		})

		Convey("1-4张图片创建成功，图片随商品落盘并写入索引", func() {
			images := []ImageUpload{testImage(1 << 10), testImage(2 << 10)}
			p, err := svc.CreateProduct(ctx, "u1", "手冲咖啡豆", images)
			So(err, ShouldBeNil)
			So(len(p.Images), ShouldEqual, 2)
			So(p.Images[0].Order, ShouldEqual, 0)
			So(p.Images[1].Order, ShouldEqual, 1)
			So(p.TotalImageBytes(), ShouldEqual, int64(3<<10))

			So(len(objStore.uploaded), ShouldEqual, 2)
			So(prodStore.products[p.ID], ShouldNotBeNil)
			So(indexer.upserts, ShouldResemble, []string{"product:" + p.ID})
		})

		Convey("商品数量达到上限被拒绝", func() {
			for i := 0; i < business.MaxProductsPerShop; i++ {
				prodStore.products[string(rune('a'+i))] = &business.Product{
					ID: string(rune('a' + i)), BusinessID: "b1",
				}
			}
			_, err := svc.CreateProduct(ctx, "u1", "手冲咖啡豆", []ImageUpload{testImage(100)})
			So(err, ShouldEqual, ErrProductLimitExceeded)
		})
	})
}

func TestBusinessService_AddProductImage(t *testing.T) {
	ctx := context.Background()

	Convey("AddProductImage 强制数量与总大小上限", t, func() {
		bizStore := newFakeBusinessStore()
		prodStore := newFakeProductStore()
		svc, _, _ := newBizService(bizStore, prodStore, nil)
		seedBusiness(bizStore, "u1", "b1")

		Convey("已有4张时拒绝追加", func() {
			prodStore.products["p1"] = &business.Product{
				ID: "p1", BusinessID: "b1",
				Images: make([]business.ProductImage, business.MaxImagesPerProduct),
			}
			_, err := svc.AddProductImage(ctx, "u1", "p1", "x.png", "image/png", strings.NewReader("x"), 1)
			So(errors.Is(err, ErrInvalidUpload), ShouldBeTrue)
		})

		Convey("追加后总大小越过1MiB被拒绝，未越过则成功", func() {
			prodStore.products["p1"] = &business.Product{
				ID: "p1", BusinessID: "b1",
				Images: []business.ProductImage{{Key: "products/p1/images/0", Size: 900 << 10, Order: 0}},
			}

			_, err := svc.AddProductImage(ctx, "u1", "p1", "big.png", "image/png",
				strings.NewReader(strings.Repeat("x", 200<<10)), 200<<10)
			So(errors.Is(err, ErrInvalidUpload), ShouldBeTrue)

			p, err := svc.AddProductImage(ctx, "u1", "p1", "small.png", "image/png",
				strings.NewReader(strings.Repeat("x", 100<<10)), 100<<10)
			So(err, ShouldBeNil)
			So(len(p.Images), ShouldEqual, 2)
			So(p.Images[1].Order, ShouldEqual, 1)
		})
	})
}

func TestBusinessService_UploadLogo(t *testing.T) {
	ctx := context.Background()

	Convey("UploadLogo 强制类型与大小边界", t, func() {
		bizStore := newFakeBusinessStore()
		prodStore := newFakeProductStore()
		svc, _, _ := newBizService(bizStore, prodStore, nil)
		seedBusiness(bizStore, "u1", "b1")

		Convey("超过200KiB被拒绝", func() {
			size := int64(business.MaxLogoBytes + 1)
			_, err := svc.UploadLogo(ctx, "u1", strings.NewReader(strings.Repeat("x", int(size))), "image/png", size)
			So(errors.Is(err, ErrInvalidUpload), ShouldBeTrue)
		})

		Convey("非图片被拒绝", func() {
			_, err := svc.UploadLogo(ctx, "u1", strings.NewReader("x"), "text/plain", 1)
			So(errors.Is(err, ErrInvalidUpload), ShouldBeTrue)
		})

		Convey("合法logo上传成功", func() {
			b, err := svc.UploadLogo(ctx, "u1", strings.NewReader(strings.Repeat("x", 1<<10)), "image/png", 1<<10)
			So(err, ShouldBeNil)
			So(b.LogoKey, ShouldEqual, "businesses/b1/logo")
			So(b.LogoType, ShouldEqual, "image/png")
		})
	})
}

func TestBusinessService_Search(t *testing.T) {
	ctx := context.Background()

	Convey("语义检索商家与商品", t, func() {
		bizStore := newFakeBusinessStore()
		prodStore := newFakeProductStore()

		Convey("商家检索按分数降序富集结果", func() {
			retriever := &fakeRetriever{matches: []semantic.Match{
				{Kind: semantic.KindBusiness, EntityID: "b1", Score: 0.9},
				{Kind: semantic.KindBusiness, EntityID: "b2", Score: 0.7},
			}}
			svc, _, _ := newBizService(bizStore, prodStore, retriever)
			seedBusiness(bizStore, "u1", "b1")
			seedBusiness(bizStore, "u2", "b2")

			results, err := svc.SearchBusinesses(ctx, "咖啡", 0)
			So(err, ShouldBeNil)
			So(len(results), ShouldEqual, 2)
			So(results[0].Business.ID, ShouldEqual, "b1")
			So(results[0].Score, ShouldBeGreaterThan, results[1].Score)
		})

		Convey("商品检索可限定商家", func() {
			retriever := &fakeRetriever{matches: []semantic.Match{
				{Kind: semantic.KindProduct, EntityID: "p1", Score: 0.9},
				{Kind: semantic.KindProduct, EntityID: "p2", Score: 0.8},
			}}
			svc, _, _ := newBizService(bizStore, prodStore, retriever)
			prodStore.products["p1"] = &business.Product{ID: "p1", BusinessID: "b1", Description: "拿铁"}
			prodStore.products["p2"] = &business.Product{ID: "p2", BusinessID: "b2", Description: "美式"}

			all, err := svc.SearchProducts(ctx, "咖啡", 0, "")
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 2)
			So(all[0].Product.ID, ShouldEqual, "p1")

			scoped, err := svc.SearchProducts(ctx, "咖啡", 0, "b1")
			So(err, ShouldBeNil)
			So(len(scoped), ShouldEqual, 1)
			So(scoped[0].Product.ID, ShouldEqual, "p1")
		})

		Convey("无命中返回空而非错误", func() {
			svc, _, _ := newBizService(bizStore, prodStore, &fakeRetriever{})
			results, err := svc.SearchBusinesses(ctx, "咖啡", 3)
			So(err, ShouldBeNil)
			So(results, ShouldBeEmpty)
		})

		Convey("索引未配置时检索端点不可用", func() {
			svc, _, _ := newBizService(bizStore, prodStore, nil)
			_, err := svc.SearchBusinesses(ctx, "咖啡", 3)
			So(err, ShouldEqual, ErrIndexUnavailable)
			_, err = svc.SearchProducts(ctx, "咖啡", 5, "")
			So(err, ShouldEqual, ErrIndexUnavailable)
		})
	})
}

func TestBusinessService_GetProductStats(t *testing.T) {
	ctx := context.Background()

	Convey("GetProductStats 汇总商品配额", t, func() {
		bizStore := newFakeBusinessStore()
		prodStore := newFakeProductStore()
		svc, _, _ := newBizService(bizStore, prodStore, nil)

		Convey("未注册商家时返回不存在", func() {
			_, err := svc.GetProductStats(ctx, "nobody")
			So(err, ShouldEqual, ErrBusinessNotFound)
		})

		Convey("统计商品数与剩余配额", func() {
			seedBusiness(bizStore, "u1", "b1")
			prodStore.products["p1"] = &business.Product{ID: "p1", BusinessID: "b1"}
			prodStore.products["p2"] = &business.Product{ID: "p2", BusinessID: "b1"}
			prodStore.products["p3"] = &business.Product{ID: "p3", BusinessID: "b1"}

			stats, err := svc.GetProductStats(ctx, "u1")
			So(err, ShouldBeNil)
			So(stats.TotalProducts, ShouldEqual, 3)
			So(stats.MaxProducts, ShouldEqual, business.MaxProductsPerShop)
			So(stats.RemainingSlots, ShouldEqual, 7)
			So(stats.CanAddMore, ShouldBeTrue)
		})
	})
}
