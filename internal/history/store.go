package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"pricescout/internal/model"
	"pricescout/internal/pkg/metrics"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RawListing 是抓取层产出的一条原始商品记录。
type RawListing struct {
	Name        string  // 展示名（自然键）
	Price       float64 // 价格，0 表示解析失败
	StockStatus string  // 库存状态文本
	Link        string  // 商品详情页链接
	Store       string  // 来源站点
	Category    string  // 可选的分类标签，为空或 "Uncategorized" 时不覆盖已有分类
}

// IngestReport 汇总一次批量入库的结果。
type IngestReport struct {
	NewProducts  int `json:"new_products"`  // 新建商品数
	PriceUpdates int `json:"price_updates"` // 追加的降价记录数
	Skipped      int `json:"skipped"`       // 因校验失败被跳过的条目数
}

// Store 是价格历史的核对引擎。
//
// 它将一批新抓取的商品记录与持久化状态核对：按展示名精确匹配身份，
// 新商品连同首条价格记录一起创建，已知商品只在价格严格低于最近一次
// 记录时才追加新的历史行（lower-price-only 策略；早期的无条件追加
// 策略已废弃，不再支持）。
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore 创建历史存储。
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ingest 将一批原始记录核对入库。
//
// 整个批次在一个数据库事务中执行：任何存储层错误都会回滚全部写入，
// 不会出现"商品存在但没有首条价格记录"的撕裂状态。单条记录的校验
// 失败（空名称、负价格）只计入 Skipped，不会中断批次。
//
// 并发约定：两次 ingest 同时引入同一个新名称时，name 上的唯一索引
// 保证只会产生一个 Product，输掉竞争的一方自动退化为"已知商品"路径。
func (s *Store) Ingest(ctx context.Context, batch []RawListing) (IngestReport, error) {
	var report IngestReport
	if len(batch) == 0 {
		return report, nil
	}

	today := truncateToDate(time.Now())

	unchanged := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range batch {
			if err := validateListing(item); err != nil {
				report.Skipped++
				s.logger.Warn("skip invalid listing",
					slog.String("name", item.Name),
					slog.Float64("price", item.Price),
					slog.String("reason", err.Error()))
				continue
			}
			isNew, updated, err := s.ingestOne(tx, item, today)
			if err != nil {
				return err
			}
			switch {
			case isNew:
				report.NewProducts++
			case updated:
				report.PriceUpdates++
			default:
				unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return IngestReport{}, fmt.Errorf("ingest batch: %w", err)
	}

	// 指标在事务提交后统一累计：回滚的批次不产生任何入库指标。
	metrics.IngestItemsTotal.WithLabelValues("new_product").Add(float64(report.NewProducts))
	metrics.IngestItemsTotal.WithLabelValues("price_update").Add(float64(report.PriceUpdates))
	metrics.IngestItemsTotal.WithLabelValues("unchanged").Add(float64(unchanged))
	metrics.IngestItemsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))

	return report, nil
}

// ingestOne 处理单条记录，返回 (是否新建, 是否追加了降价记录, 错误)。
func (s *Store) ingestOne(tx *gorm.DB, item RawListing, today time.Time) (bool, bool, error) {
	name := strings.TrimSpace(item.Name)

	product := model.Product{
		Name:     name,
		Link:     item.Link,
		Store:    item.Store,
		Category: normalizeCategory(item.Category),
	}

	// 原子化创建：name 冲突时不写入任何列，RowsAffected 为 0。
	// 这样并发创建同一个新名称的竞争者会安全地落入下面的已知商品路径。
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&product)
	if res.Error != nil {
		return false, false, fmt.Errorf("create product %q: %w", name, res.Error)
	}

	if res.RowsAffected > 0 && product.ID != 0 {
		// 新商品：无条件记录首条价格，哪怕是 0（建立基线）。
		obs := model.PriceObservation{
			ProductID:   product.ID,
			Price:       item.Price,
			StockStatus: item.StockStatus,
			ObservedOn:  today,
		}
		if err := tx.Create(&obs).Error; err != nil {
			return false, false, fmt.Errorf("create first observation for %q: %w", name, err)
		}
		return true, false, nil
	}

	// 已知商品（或输掉了创建竞争）：重新查询拿到 ID 和当前分类。
	var existing model.Product
	if err := tx.Where("name = ?", name).First(&existing).Error; err != nil {
		return false, false, fmt.Errorf("load product %q: %w", name, err)
	}

	updates := map[string]interface{}{}
	if item.Link != "" && item.Link != existing.Link {
		updates["link"] = item.Link
	}
	if cat := strings.TrimSpace(item.Category); cat != "" && cat != model.DefaultCategory && cat != existing.Category {
		updates["category"] = cat
	}
	if len(updates) > 0 {
		if err := tx.Model(&model.Product{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return false, false, fmt.Errorf("update product %q: %w", name, err)
		}
	}

	lastPrice, err := s.lastRecordedPrice(tx, existing.ID)
	if err != nil {
		return false, false, err
	}

	if !shouldRecordLower(lastPrice, item.Price) {
		return false, false, nil
	}

	obs := model.PriceObservation{
		ProductID:   existing.ID,
		Price:       item.Price,
		StockStatus: item.StockStatus,
		ObservedOn:  today,
	}
	if err := tx.Create(&obs).Error; err != nil {
		return false, false, fmt.Errorf("append observation for %q: %w", name, err)
	}
	return false, true, nil
}

// lastRecordedPrice 返回商品最近一条记录的价格。
//
// 正常情况下商品总有至少一条记录（与创建同事务写入）；
// 防御性地把缺失记录当作正无穷处理，使任何正价格都能建立基线。
func (s *Store) lastRecordedPrice(tx *gorm.DB, productID uint) (float64, error) {
	var last model.PriceObservation
	err := tx.Where("product_id = ?", productID).
		Order("observed_on DESC, id DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return math.Inf(1), nil
	}
	if err != nil {
		return 0, fmt.Errorf("load last observation: %w", err)
	}
	return last.Price, nil
}

// validateListing 校验单条记录，失败的记录被跳过而非中断批次。
func validateListing(item RawListing) error {
	if strings.TrimSpace(item.Name) == "" {
		return errors.New("empty name")
	}
	if item.Price < 0 {
		return errors.New("negative price")
	}
	if math.IsNaN(item.Price) || math.IsInf(item.Price, 0) {
		return errors.New("non-finite price")
	}
	return nil
}

// shouldRecordLower 是降价门控：仅当新价格有效且严格低于最近记录时追加。
func shouldRecordLower(lastPrice, newPrice float64) bool {
	return newPrice > 0 && newPrice < lastPrice
}

// normalizeCategory 把空分类归一为默认占位值。
func normalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return model.DefaultCategory
	}
	return category
}

// truncateToDate 去掉时间部分，保留天粒度。
func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
