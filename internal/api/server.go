package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"pricescout/internal/api/middleware"
	"pricescout/internal/category"
	"pricescout/internal/classifier"
	"pricescout/internal/config"
	"pricescout/internal/extractor"
	"pricescout/internal/history"
	"pricescout/internal/model"
	"pricescout/internal/pkg/dedup"
	"pricescout/internal/pkg/metrics"
	"pricescout/internal/pkg/notify"
	"pricescout/internal/pkg/queue"
	"pricescout/internal/pkg/runlock"
	"pricescout/internal/query"
	"pricescout/internal/tracker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Searcher 是抓取任务投递的消费端接口。
type Searcher interface {
	EnqueueSearch(ctx context.Context, searchQuery string) error
}

// Catalog 是价格历史读侧的消费端接口。
type Catalog interface {
	CurrentSnapshot(ctx context.Context, categoryFilter string) ([]query.ProductView, error)
	AllTimeLowSnapshot(ctx context.Context) ([]query.ProductView, error)
	FindOpportunities(ctx context.Context) ([]query.Opportunity, error)
	ListCategories(ctx context.Context) ([]string, error)
}

// Server 封装 API 服务所需的依赖和路由处理。
//
// 它是整个服务的组装根：持有数据库连接、Redis 客户端、浏览器抓取
// 服务、任务队列以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	jobs   *queue.Queue
	ext    *extractor.Service

	searcher Searcher
	catalog  Catalog
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 并执行自动迁移
// 2. 连接 Redis
// 3. 启动抓取浏览器
// 4. 组装抓取、分类、入库、查询各服务
// 5. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Product{}, &model.PriceObservation{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	ext, err := extractor.NewService(ctx, &cfg.Browser, cfg.App.Store, logger)
	if err != nil {
		return nil, err
	}

	clf := classifier.NewClient(
		cfg.Classifier.Endpoint,
		cfg.Classifier.APIKey,
		cfg.Classifier.Timeout,
		cfg.Classifier.Rate,
		cfg.Classifier.Burst,
		logger,
	)
	pipeline := category.NewPipeline(clf, logger)

	store := history.NewStore(db, logger)
	catalog := query.NewService(db, logger, cfg.App.BelowAvgDiscount)

	var notifier tracker.Notifier
	if cfg.App.AlertEmail != "" {
		notifier = notify.NewEmailNotifier(&cfg.Email, cfg.App.AlertEmail, logger)
	}

	jobs := queue.NewQueue(logger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	svc := tracker.NewService(
		ext,
		pipeline,
		store,
		catalog,
		notifier,
		dedup.NewDeduplicator(rdb, cfg.App.SearchDedupTTL),
		runlock.NewLocker(rdb, cfg.App.IngestLockTTL),
		jobs,
		logger,
	)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		router:   r,
		jobs:     jobs,
		ext:      ext,
		searcher: svc,
		catalog:  catalog,
	}
	s.registerRoutes()
	return s, nil
}

// StartWorkers 启动后台抓取 worker 池。
func (s *Server) StartWorkers(ctx context.Context) {
	s.jobs.Start(ctx)
	s.logger.Info("search workers started",
		slog.Int("workers", s.cfg.App.WorkerPoolSize),
		slog.Int("capacity", s.cfg.App.QueueCapacity))
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 优雅关闭：排空任务队列，关闭浏览器、缓存与数据库连接。
func (s *Server) Close(ctx context.Context) error {
	var firstErr error

	if s.jobs != nil {
		if err := s.jobs.ShutdownWithTimeout(30 * time.Second); err != nil {
			firstErr = err
		}
	}
	if s.ext != nil {
		if err := s.ext.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/search", s.handleCreateSearch)
	s.router.GET("/products", s.handleAllTimeLow)
	s.router.GET("/products/current", s.handleCurrentProducts)
	s.router.GET("/opportunities", s.handleOpportunities)
	s.router.GET("/categories", s.handleCategories)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
