package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pricescout/internal/history"
	"pricescout/internal/model"
	"pricescout/internal/pkg/metrics"
	"pricescout/internal/pkg/queue"
	"pricescout/internal/query"
)

var (
	// ErrDuplicateSearch 表示该关键词在去重窗口内已经触发过抓取。
	ErrDuplicateSearch = errors.New("search already ran recently")

	// ErrQueueFull 表示抓取队列已满，无法接受新任务。
	ErrQueueFull = errors.New("search queue is full")
)

// Extractor 是页面抓取能力的消费端接口。
type Extractor interface {
	Extract(ctx context.Context, searchQuery string) ([]history.RawListing, error)
}

// Categorizer 是两阶段分类流水线的消费端接口。
type Categorizer interface {
	ClassifyBatch(ctx context.Context, names []string) (map[string]string, error)
}

// HistoryStore 是价格历史写入的消费端接口。
type HistoryStore interface {
	Ingest(ctx context.Context, batch []history.RawListing) (history.IngestReport, error)
}

// OpportunityFinder 扫描全库寻找买入机会。
type OpportunityFinder interface {
	FindOpportunities(ctx context.Context) ([]query.Opportunity, error)
}

// Notifier 发送机会摘要通知。
type Notifier interface {
	SendOpportunities(ctx context.Context, searchQuery string, opportunities []query.Opportunity) error
}

// RunDeduper 提供搜索词的时间窗口去重。
//
// IsDuplicate 首次命中时写入窗口标记；Delete 归还标记，
// 用于任务最终没有被受理的场景。
type RunDeduper interface {
	IsDuplicate(ctx context.Context, searchQuery string) (bool, error)
	Delete(ctx context.Context, searchQuery string) error
}

// RunLocker 保证同一关键词同一时间只有一个抓取任务在跑。
type RunLocker interface {
	Acquire(ctx context.Context, name string) (string, error)
	Release(ctx context.Context, name, token string) error
}

// RunReport 汇总一次完整抓取的结果。
type RunReport struct {
	Query         string               `json:"query"`
	Listings      int                  `json:"listings"`
	Ingest        history.IngestReport `json:"ingest"`
	Opportunities int                  `json:"opportunities"`
}

// Service 串联抓取、分类、入库与机会分析。
//
// 抓取任务经由内存队列异步执行；HTTP 层只负责投递并立即返回。
type Service struct {
	extractor Extractor
	pipeline  Categorizer
	store     HistoryStore
	finder    OpportunityFinder
	notifier  Notifier
	deduper   RunDeduper
	locker    RunLocker
	jobs      *queue.Queue
	logger    *slog.Logger
}

// NewService 创建追踪服务。notifier 可以为 nil（不发送提醒）。
func NewService(
	extractor Extractor,
	pipeline Categorizer,
	store HistoryStore,
	finder OpportunityFinder,
	notifier Notifier,
	deduper RunDeduper,
	locker RunLocker,
	jobs *queue.Queue,
	logger *slog.Logger,
) *Service {
	return &Service{
		extractor: extractor,
		pipeline:  pipeline,
		store:     store,
		finder:    finder,
		notifier:  notifier,
		deduper:   deduper,
		locker:    locker,
		jobs:      jobs,
		logger:    logger,
	}
}

// EnqueueSearch 投递一个异步抓取任务。
//
// 去重窗口内重复的关键词返回 ErrDuplicateSearch，队列满返回
// ErrQueueFull。投递成功只代表任务已接受，不代表抓取完成。
func (s *Service) EnqueueSearch(ctx context.Context, searchQuery string) error {
	searchQuery = strings.TrimSpace(searchQuery)
	if searchQuery == "" {
		return errors.New("empty search query")
	}

	dup, err := s.deduper.IsDuplicate(ctx, searchQuery)
	if err != nil {
		// Redis 故障时放行而不是拒绝：去重是优化，不是正确性保障
		s.logger.Warn("dedup check failed, proceeding anyway",
			slog.String("query", searchQuery),
			slog.String("error", err.Error()))
	} else if dup {
		metrics.SearchRunsTotal.WithLabelValues("deduplicated").Inc()
		return fmt.Errorf("%w: %q", ErrDuplicateSearch, searchQuery)
	}

	ok := s.jobs.Enqueue(func(jobCtx context.Context) error {
		_, err := s.RunSearch(jobCtx, searchQuery)
		return err
	})
	if !ok {
		// 任务没有被受理，归还去重窗口，否则该关键词要等满整个 TTL
		if err := s.deduper.Delete(ctx, searchQuery); err != nil {
			s.logger.Warn("release dedup window failed",
				slog.String("query", searchQuery),
				slog.String("error", err.Error()))
		}
		return ErrQueueFull
	}

	s.logger.Info("search enqueued", slog.String("query", searchQuery))
	return nil
}

// RunSearch 同步执行一次完整的抓取流程：
// 加锁 → 抓取 → 分类 → 入库 → 机会分析 → 通知。
//
// 分类失败不会中断流程：当轮商品全部落到默认分类，入库照常进行。
func (s *Service) RunSearch(ctx context.Context, searchQuery string) (*RunReport, error) {
	start := time.Now()

	token, err := s.locker.Acquire(ctx, searchQuery)
	if err != nil {
		metrics.SearchRunsTotal.WithLabelValues("locked").Inc()
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, searchQuery, token); err != nil {
			s.logger.Warn("release run lock failed",
				slog.String("query", searchQuery),
				slog.String("error", err.Error()))
		}
	}()

	report, err := s.runLocked(ctx, searchQuery)
	metrics.SearchRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.SearchRunsTotal.WithLabelValues("success").Inc()

	s.logger.Info("search run completed",
		slog.String("query", searchQuery),
		slog.Int("listings", report.Listings),
		slog.Int("new_products", report.Ingest.NewProducts),
		slog.Int("price_updates", report.Ingest.PriceUpdates),
		slog.Int("opportunities", report.Opportunities),
		slog.Duration("duration", time.Since(start)))
	return report, nil
}

func (s *Service) runLocked(ctx context.Context, searchQuery string) (*RunReport, error) {
	listings, err := s.extractor.Extract(ctx, searchQuery)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if len(listings) == 0 {
		s.logger.Info("no listings extracted", slog.String("query", searchQuery))
		return &RunReport{Query: searchQuery}, nil
	}

	s.applyCategories(ctx, listings)

	ingestReport, err := s.store.Ingest(ctx, listings)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	opportunities, err := s.finder.FindOpportunities(ctx)
	if err != nil {
		// 机会分析是只读附加步骤，失败不影响已完成的入库
		s.logger.Warn("opportunity scan failed",
			slog.String("query", searchQuery),
			slog.String("error", err.Error()))
		opportunities = nil
	}

	if s.notifier != nil && len(opportunities) > 0 {
		if err := s.notifier.SendOpportunities(ctx, searchQuery, opportunities); err != nil {
			s.logger.Warn("send opportunity digest failed",
				slog.String("error", err.Error()))
		}
	}

	return &RunReport{
		Query:         searchQuery,
		Listings:      len(listings),
		Ingest:        ingestReport,
		Opportunities: len(opportunities),
	}, nil
}

// applyCategories 为本批商品打分类标签。
// 分类服务整体失败时全部落到默认分类，错误只记日志。
func (s *Service) applyCategories(ctx context.Context, listings []history.RawListing) {
	names := make([]string, 0, len(listings))
	for _, l := range listings {
		names = append(names, l.Name)
	}

	mapping, err := s.pipeline.ClassifyBatch(ctx, names)
	if err != nil {
		s.logger.Warn("classification failed, falling back to default category",
			slog.Int("listings", len(listings)),
			slog.String("error", err.Error()))
		return
	}

	for i := range listings {
		if label, ok := mapping[listings[i].Name]; ok && label != "" {
			listings[i].Category = label
		} else {
			listings[i].Category = model.DefaultCategory
		}
	}
}
