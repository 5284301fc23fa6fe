package query

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"pricescout/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// newTestService 在临时 sqlite 文件上建表并创建查询服务。
// 模型里的索引前缀长度参数是 MySQL 方言的，这里用等价的 DDL 建表。
func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "pricescout.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	ddl := []string{
		`CREATE TABLE products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME,
			name TEXT NOT NULL UNIQUE,
			link TEXT,
			store TEXT,
			category TEXT NOT NULL DEFAULT 'Uncategorized'
		)`,
		`CREATE TABLE price_observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id INTEGER NOT NULL,
			price REAL NOT NULL,
			stock_status TEXT,
			observed_on DATE
		)`,
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(db, logger, 0.85), db
}

// seedProduct 写入一个商品和按天递增的价格历史。
func seedProduct(t *testing.T, db *gorm.DB, name, category string, prices []float64) uint {
	t.Helper()

	p := model.Product{Name: name, Link: "https://altex.ro/" + name, Store: "Altex", Category: category}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed product %q: %v", name, err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, price := range prices {
		obs := model.PriceObservation{
			ProductID:   p.ID,
			Price:       price,
			StockStatus: "in stoc",
			ObservedOn:  base.AddDate(0, 0, i),
		}
		if err := db.Create(&obs).Error; err != nil {
			t.Fatalf("seed observation: %v", err)
		}
	}
	return p.ID
}

func TestCurrentSnapshot(t *testing.T) {
	s, db := newTestService(t)
	seedProduct(t, db, "Laptop ASUS X515", "Laptop", []float64{2499, 2299})
	seedProduct(t, db, "Monitor Dell 27", "Monitor", []float64{899})

	views, err := s.CurrentSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("current snapshot: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 products, got %d", len(views))
	}
	// 名称升序，每个商品取最新一条记录
	if views[0].Name != "Laptop ASUS X515" || views[0].Price != 2299 {
		t.Fatalf("unexpected first row: %+v", views[0])
	}
	if views[1].Name != "Monitor Dell 27" || views[1].Price != 899 {
		t.Fatalf("unexpected second row: %+v", views[1])
	}
}

func TestCurrentSnapshot_SameDayTakesLaterInsert(t *testing.T) {
	s, db := newTestService(t)
	id := seedProduct(t, db, "Laptop ASUS X515", "Laptop", nil)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, price := range []float64{2499, 2299} {
		obs := model.PriceObservation{ProductID: id, Price: price, StockStatus: "in stoc", ObservedOn: day}
		if err := db.Create(&obs).Error; err != nil {
			t.Fatalf("seed observation: %v", err)
		}
	}

	views, err := s.CurrentSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("current snapshot: %v", err)
	}
	if len(views) != 1 || views[0].Price != 2299 {
		t.Fatalf("same-day tie must take the later insert, got %+v", views)
	}
}

func TestCurrentSnapshot_CategoryFilter(t *testing.T) {
	s, db := newTestService(t)
	seedProduct(t, db, "Laptop ASUS X515", "Laptop", []float64{2499})
	seedProduct(t, db, "Monitor Dell 27", "Monitor", []float64{899})

	views, err := s.CurrentSnapshot(context.Background(), "Monitor")
	if err != nil {
		t.Fatalf("current snapshot: %v", err)
	}
	if len(views) != 1 || views[0].Name != "Monitor Dell 27" {
		t.Fatalf("category filter broken: %+v", views)
	}
}

func TestAllTimeLowSnapshot(t *testing.T) {
	s, db := newTestService(t)
	// 0 是未知价基线，不参与最低价
	seedProduct(t, db, "Laptop ASUS X515", "Laptop", []float64{0, 2499, 2299})
	// 只有未知价记录的商品被整个排除
	seedProduct(t, db, "Monitor Dell 27", "Monitor", []float64{0})

	views, err := s.AllTimeLowSnapshot(context.Background())
	if err != nil {
		t.Fatalf("all time low snapshot: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 product, got %+v", views)
	}
	if views[0].Name != "Laptop ASUS X515" || views[0].Price != 2299 {
		t.Fatalf("unexpected all-time low: %+v", views[0])
	}
}

func TestListCategoriesFromDB(t *testing.T) {
	s, db := newTestService(t)
	seedProduct(t, db, "Laptop ASUS X515", "Laptop", []float64{2499})
	seedProduct(t, db, "Laptop Lenovo IdeaPad", "Laptop", []float64{1899})
	seedProduct(t, db, "Husa laptop 15.6", "Uncategorized", []float64{49})

	categories, err := s.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	want := []string{"Laptop", "Uncategorized"}
	if len(categories) != len(want) {
		t.Fatalf("expected %v, got %v", want, categories)
	}
	for i := range want {
		if categories[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, categories)
		}
	}
}

func TestFindOpportunitiesFromDB(t *testing.T) {
	s, db := newTestService(t)
	// 降价到历史最低
	seedProduct(t, db, "Laptop ASUS X515", "Laptop", []float64{2499, 2299, 2099})
	// 价格回升，既不是最低也不低于均价阈值
	seedProduct(t, db, "Monitor Dell 27", "Monitor", []float64{800, 899})
	// 当前价未知
	seedProduct(t, db, "Mouse Logitech G502", "Mouse", []float64{0})

	opps, err := s.FindOpportunities(context.Background())
	if err != nil {
		t.Fatalf("find opportunities: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %+v", opps)
	}
	opp := opps[0]
	if opp.Name != "Laptop ASUS X515" || opp.Kind != KindAllTimeLow {
		t.Fatalf("unexpected opportunity: %+v", opp)
	}
	if opp.CurrentPrice != 2099 || opp.LowestPrice != 2099 {
		t.Fatalf("unexpected prices: %+v", opp)
	}
}

func TestFindOpportunitiesFromDB_EmptyStore(t *testing.T) {
	s, _ := newTestService(t)

	opps, err := s.FindOpportunities(context.Background())
	if err != nil {
		t.Fatalf("find opportunities: %v", err)
	}
	if len(opps) != 0 {
		t.Fatalf("empty store must yield no opportunities, got %+v", opps)
	}
}
