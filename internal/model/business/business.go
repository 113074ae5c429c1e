package business

import (
	"strings"
	"time"
)

// 商家资料与商品的边界约束，在核心逻辑调用前校验
const (
	MaxDescriptionLines = 10
	MaxDescriptionChars = 2000
	MaxProductsPerShop  = 10
	MaxImagesPerProduct = 4
	MinImagesPerProduct = 1
	MaxLogoBytes        = 200 << 10  // 200 KiB
	MaxImagesTotalBytes = 1 << 20    // 1 MiB，单个商品全部图片之和
)

// Business 商家资料，每个用户至多一条
// 描述文本同步写入语义索引，logo 走对象存储
type Business struct {
	ID          string    `bson:"_id,omitempty" json:"id"` // UUID格式的ID
	UserID      string    `bson:"user_id" json:"user_id"`
	Description string    `bson:"description" json:"description"` // 最多10行
	LogoKey     string    `bson:"logo_key,omitempty" json:"-"`    // 对象存储key
	LogoType    string    `bson:"logo_type,omitempty" json:"logo_type,omitempty"`
	VectorID    string    `bson:"vector_id" json:"vector_id"` // 语义索引弱引用
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// Product 商品，归属一个商家
type Product struct {
	ID          string         `bson:"_id,omitempty" json:"id"` // UUID格式的ID
	BusinessID  string         `bson:"business_id" json:"business_id"`
	Description string         `bson:"description" json:"description"` // 最多10行
	Images      []ProductImage `bson:"images,omitempty" json:"images,omitempty"`
	VectorID    string         `bson:"vector_id" json:"vector_id"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at" json:"updated_at"`
}

// ProductImage 商品图片元数据，二进制走对象存储
type ProductImage struct {
	Key         string `bson:"key" json:"-"`
	Filename    string `bson:"filename" json:"filename"`
	ContentType string `bson:"content_type" json:"content_type"`
	Size        int64  `bson:"size" json:"size"`
	Order       int    `bson:"order" json:"order"` // 展示顺序 0-3
}

// TotalImageBytes 当前商品全部图片的字节数之和
func (p *Product) TotalImageBytes() int64 {
	var total int64
	for _, img := range p.Images {
		total += img.Size
	}
	return total
}

// ValidateDescription 校验描述文本的行数与长度边界
func ValidateDescription(text string) bool {
	if text == "" || len(text) > MaxDescriptionChars {
		return false
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return len(lines) <= MaxDescriptionLines
}
