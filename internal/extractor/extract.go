package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"pricescout/internal/history"
	"pricescout/internal/pkg/metrics"

	"github.com/go-rod/rod"
)

// accessoryExclusions 过滤掉明显是配件的搜索结果。
// 关键词按罗马尼亚语站点的常见写法维护。
var accessoryExclusions = []string{
	"folie", "husă", "husa", "carcasă", "carcasa", "încărcător", "incarcator",
	"cablu", "suport", "baterie externa", "sticla", "protectie", "geam",
	"securizat", "rucsac", "geanta",
}

// Extract 执行一次关键词搜索，逐页抓取直到空页或翻页上限。
//
// 名称不含全部搜索词、或命中配件关键词的结果被丢弃。价格解析失败
// 记为 0（未知价），由下游决定如何处理。
func (s *Service) Extract(ctx context.Context, query string) ([]history.RawListing, error) {
	searchWords := strings.Fields(strings.ToLower(query))
	if len(searchWords) == 0 {
		return nil, fmt.Errorf("empty search query")
	}

	maxPages := s.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}

	var all []history.RawListing
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return all, fmt.Errorf("page rate limiter: %w", err)
		}

		pageURL := BuildSearchURL(s.cfg.BaseURL, query, pageNum)
		s.logger.Info("loading search page",
			slog.Int("page", pageNum),
			slog.String("url", pageURL))

		listings, err := s.extractPage(ctx, pageURL, searchWords)
		if err != nil {
			metrics.ExtractorPagesTotal.WithLabelValues("failed").Inc()
			return all, fmt.Errorf("page %d: %w", pageNum, err)
		}
		if len(listings) == 0 {
			// 空页意味着结果已翻完
			metrics.ExtractorPagesTotal.WithLabelValues("empty").Inc()
			s.logger.Info("no more results", slog.Int("page", pageNum))
			break
		}
		metrics.ExtractorPagesTotal.WithLabelValues("success").Inc()
		all = append(all, listings...)
	}

	s.logger.Info("extract finished",
		slog.String("query", query),
		slog.Int("listings", len(all)))
	return all, nil
}

// extractPage 抓取并解析一页搜索结果。
func (s *Service) extractPage(ctx context.Context, pageURL string, searchWords []string) ([]history.RawListing, error) {
	page, err := s.newStealthPage(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = page.Close() }()

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	// 等待商品列表出现；超时视为空页（搜索结果已翻完）
	waitCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()
	if _, err := page.Context(waitCtx).Element("li.Products-item"); err != nil {
		return nil, nil
	}

	elements, err := page.Elements("li.Products-item")
	if err != nil {
		return nil, fmt.Errorf("list product elements: %w", err)
	}

	listings := make([]history.RawListing, 0, len(elements))
	skipped := 0
	for _, el := range elements {
		listing, ok := s.extractListing(el)
		if !ok {
			skipped++
			continue
		}
		if !MatchesSearch(listing.Name, searchWords) {
			continue
		}
		listings = append(listings, listing)
	}

	s.logger.Debug("page parsed",
		slog.Int("containers", len(elements)),
		slog.Int("kept", len(listings)),
		slog.Int("skipped", skipped))
	return listings, nil
}

// extractListing 从单个商品卡片元素中提取字段。
// 名称、价格、链接缺一不可；库存徽章可选。
func (s *Service) extractListing(el *rod.Element) (history.RawListing, bool) {
	var listing history.RawListing

	nameEl, err := el.Element("span.Product-name")
	if err != nil {
		return listing, false
	}
	name, err := nameEl.Text()
	if err != nil || strings.TrimSpace(name) == "" {
		return listing, false
	}

	priceEl, err := el.Element("span.Price-int")
	if err != nil {
		return listing, false
	}
	priceText, _ := priceEl.Text()

	linkEl, err := el.Element("a")
	if err != nil {
		return listing, false
	}
	link := ""
	if href, _ := linkEl.Attribute("href"); href != nil {
		link = normalizeLink(s.cfg.BaseURL, *href)
	}
	if link == "" {
		return listing, false
	}

	stockStatus := "N/A"
	if stockEl, err := el.Element("div.Badge-stock"); err == nil {
		if txt, err := stockEl.Text(); err == nil && strings.TrimSpace(txt) != "" {
			stockStatus = strings.TrimSpace(txt)
		}
	}

	listing = history.RawListing{
		Name:        strings.TrimSpace(name),
		Price:       ParsePrice(priceText),
		StockStatus: stockStatus,
		Link:        link,
		Store:       s.store,
	}
	return listing, true
}

// BuildSearchURL 构造搜索结果页 URL。
// 第一页与后续页使用不同的路径格式。
func BuildSearchURL(baseURL, query string, page int) string {
	q := url.QueryEscape(query)
	if page <= 1 {
		return fmt.Sprintf("%s/cauta/?q=%s", baseURL, q)
	}
	return fmt.Sprintf("%s/cauta/filtru/p/%d/?q=%s", baseURL, page, q)
}

// ParsePrice 解析价格字符串的整数部分。
// 站点用 "." 作千位分隔符（"1.299" = 1299 Lei）；解析失败返回 0。
func ParsePrice(txt string) float64 {
	cleaned := strings.TrimSpace(strings.ReplaceAll(txt, ".", ""))
	if cleaned == "" {
		return 0
	}
	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

// MatchesSearch 判断商品名是否保留：必须包含全部搜索词，
// 且不命中任何配件排除关键词。
func MatchesSearch(name string, searchWords []string) bool {
	lower := strings.ToLower(name)
	for _, word := range searchWords {
		if !strings.Contains(lower, word) {
			return false
		}
	}
	for _, excl := range accessoryExclusions {
		if strings.Contains(lower, excl) {
			return false
		}
	}
	return true
}

// normalizeLink 将相对链接补全为绝对地址。
func normalizeLink(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return baseURL + href
}
