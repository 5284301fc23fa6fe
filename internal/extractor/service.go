package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pricescout/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"golang.org/x/time/rate"
)

const browserInitTimeout = 30 * time.Second

// Service 负责浏览器调度与搜索结果页解析。
//
// 它维护一个 rod.Browser 实例，每次搜索按页打开新标签页。翻页速率
// 由 limiter 控制，避免对目标站点造成压力。
type Service struct {
	cfg    *config.BrowserConfig
	store  string
	logger *slog.Logger

	limiter     *rate.Limiter
	pageTimeout time.Duration

	mu      sync.RWMutex
	browser *rod.Browser
}

// NewService 启动浏览器实例并创建抓取服务。
func NewService(ctx context.Context, cfg *config.BrowserConfig, store string, logger *slog.Logger) (*Service, error) {
	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()

	browser, err := startBrowser(initCtx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pageTimeout := cfg.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 20 * time.Second
	}
	pageRate := cfg.PageRate
	if pageRate <= 0 {
		pageRate = 0.3
	}

	logger.Info("extractor service initialized",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_pages", cfg.MaxPages))

	return &Service{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(pageRate), 1),
		pageTimeout: pageTimeout,
		browser:     browser,
	}, nil
}

// startBrowser 根据配置启动浏览器。
//
// 针对容器环境做了适配（NoSandbox、禁用 /dev/shm）。未指定浏览器
// 路径时自动下载默认版本。
func startBrowser(ctx context.Context, cfg *config.BrowserConfig, logger *slog.Logger) (*rod.Browser, error) {
	bin := cfg.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("remote-allow-origins", "*")

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	logger.Info("browser started", slog.String("bin", bin))
	return browser, nil
}

// newStealthPage 打开一个应用了反检测脚本的新标签页。
func (s *Service) newStealthPage(ctx context.Context) (*rod.Page, error) {
	s.mu.RLock()
	browser := s.browser
	s.mu.RUnlock()
	if browser == nil {
		return nil, fmt.Errorf("browser not initialized")
	}

	page, err := stealth.Page(browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	return page.Timeout(s.pageTimeout), nil
}

// Shutdown 关闭浏览器实例。
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down extractor service...")

	s.mu.Lock()
	browser := s.browser
	s.browser = nil
	s.mu.Unlock()

	if browser != nil {
		if err := browser.Close(); err != nil {
			s.logger.Error("close browser failed", slog.String("error", err.Error()))
			return err
		}
	}
	s.logger.Info("extractor service shutdown completed")
	return nil
}
