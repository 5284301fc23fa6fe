package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// ProductView 是读侧投影：一个商品加上它的一条代表性价格记录。
type ProductView struct {
	Name        string    `json:"name"`
	Link        string    `json:"link"`
	Store       string    `json:"store"`
	Category    string    `json:"category"`
	Price       float64   `json:"price"`
	StockStatus string    `json:"stock_status"`
	ObservedOn  time.Time `json:"observed_on"`
}

// Service 提供价格历史上的只读查询。
//
// 所有查询都是无副作用的，可与入库并发执行；读到的是数据库某个
// 一致时间点的快照，不会出现"商品存在但没有任何价格记录"的撕裂视图
// （入库在同一事务中写入商品与首条记录）。
type Service struct {
	db       *gorm.DB
	logger   *slog.Logger
	discount float64
}

// NewService 创建查询服务。discount 是"低于均价"判定系数（如 0.85）。
func NewService(db *gorm.DB, logger *slog.Logger, discount float64) *Service {
	if discount <= 0 || discount >= 1 {
		discount = defaultDiscount
	}
	return &Service{db: db, logger: logger, discount: discount}
}

// CurrentSnapshot 返回每个商品的最新价格记录。
//
// 最新按 observed_on 最大取，同日多条时取插入更晚的一条。
// category 非空时只返回该分类下的商品。结果按名称升序排列。
func (s *Service) CurrentSnapshot(ctx context.Context, category string) ([]ProductView, error) {
	q := `
SELECT p.name, p.link, p.store, p.category, o.price, o.stock_status, o.observed_on
FROM products p
JOIN price_observations o ON o.product_id = p.id
WHERE o.id = (
	SELECT o2.id FROM price_observations o2
	WHERE o2.product_id = p.id
	ORDER BY o2.observed_on DESC, o2.id DESC
	LIMIT 1
)`
	args := []interface{}{}
	if category != "" {
		q += " AND p.category = ?"
		args = append(args, category)
	}
	q += " ORDER BY p.name ASC"

	var views []ProductView
	if err := s.db.WithContext(ctx).Raw(q, args...).Scan(&views).Error; err != nil {
		return nil, fmt.Errorf("current snapshot: %w", err)
	}
	return views, nil
}

// AllTimeLowSnapshot 返回每个商品的历史最低价记录。
//
// 只考虑价格大于 0 的记录；价格为 0 的"未知价"行永远不参与最低价。
// 没有任何正价格记录的商品被整个排除。结果按名称升序排列。
func (s *Service) AllTimeLowSnapshot(ctx context.Context) ([]ProductView, error) {
	q := `
SELECT p.name, p.link, p.store, p.category, o.price, o.stock_status, o.observed_on
FROM products p
JOIN price_observations o ON o.product_id = p.id
WHERE o.id = (
	SELECT o2.id FROM price_observations o2
	WHERE o2.product_id = p.id AND o2.price > 0
	ORDER BY o2.price ASC, o2.id ASC
	LIMIT 1
)
ORDER BY p.name ASC`

	var views []ProductView
	if err := s.db.WithContext(ctx).Raw(q).Scan(&views).Error; err != nil {
		return nil, fmt.Errorf("all time low snapshot: %w", err)
	}
	return views, nil
}

// ListCategories 返回所有出现过的分类标签，按字典序排列。
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	err := s.db.WithContext(ctx).
		Raw("SELECT DISTINCT category FROM products ORDER BY category ASC").
		Scan(&categories).Error
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// FindOpportunities 扫描全部价格历史，找出当前值得买入的商品。
//
// 判定逻辑见 evaluateOpportunity。空库返回空切片而不是错误。
func (s *Service) FindOpportunities(ctx context.Context) ([]Opportunity, error) {
	type obsRow struct {
		ProductID uint
		Name      string
		Price     float64
		ObsID     uint
	}

	var rows []obsRow
	err := s.db.WithContext(ctx).Raw(`
SELECT p.id AS product_id, p.name, o.price, o.id AS obs_id
FROM products p
JOIN price_observations o ON o.product_id = p.id
ORDER BY p.name ASC, o.observed_on ASC, o.id ASC`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load price history: %w", err)
	}

	var opportunities []Opportunity
	var (
		currentID   uint
		currentName string
		history     []float64
	)

	flush := func() {
		if currentID == 0 {
			return
		}
		if opp, ok := evaluateOpportunity(currentName, history, s.discount); ok {
			opportunities = append(opportunities, opp)
		}
	}

	for _, row := range rows {
		if row.ProductID != currentID {
			flush()
			currentID = row.ProductID
			currentName = row.Name
			history = history[:0]
		}
		history = append(history, row.Price)
	}
	flush()

	s.logger.Debug("opportunity scan finished",
		slog.Int("observations", len(rows)),
		slog.Int("opportunities", len(opportunities)))
	return opportunities, nil
}
