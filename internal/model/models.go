package model

import (
	"time"
)

// DefaultCategory 是商品在未被分类前的占位分类。
const DefaultCategory = "Uncategorized"

// Product 表示一个被长期追踪的商品。
//
// Name 是商品在来源站点的完整展示名，作为去重的自然键（唯一索引）。
// 两次抓取中名称完全一致的条目会被归并到同一个 Product，
// 名称哪怕只差一个字符也会被视为不同商品（已知局限，不做模糊匹配）。
type Product struct {
	ID        uint      `gorm:"primaryKey"` // 内部 ID
	CreatedAt time.Time // 首次发现时间

	Name     string `gorm:"type:varchar(512);uniqueIndex:idx_products_name,length:191;not null"` // 首次发现时的展示名（唯一）
	Link     string `gorm:"type:varchar(1024)"`                                                  // 商品详情页链接（每次再发现时覆盖）
	Store    string `gorm:"type:varchar(64)"`                                                    // 来源站点标识（如 "Altex"）
	Category string `gorm:"type:varchar(64);default:Uncategorized"`                              // 分类标签，分类结果到达时覆盖

	Observations []PriceObservation `gorm:"foreignKey:ProductID"` // 价格历史
}

// PriceObservation 表示某个商品的一条历史价格记录。
//
// 记录只追加、不修改、不删除。Price 为 0 表示价格解析失败，
// 它可以作为首条基线记录存在，但永远不会被视为真实低价。
type PriceObservation struct {
	ID        uint `gorm:"primaryKey"`
	ProductID uint `gorm:"index;not null"` // 所属商品

	Price       float64   `gorm:"not null"`          // 价格（0 = 未知）
	StockStatus string    `gorm:"type:varchar(128)"` // 抓取时的库存状态文本
	ObservedOn  time.Time `gorm:"type:date"`         // 抓取日期（天粒度，同一天多次抓取共享日期）
}
