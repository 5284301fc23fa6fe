package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"pricescout/internal/query"
	"pricescout/internal/tracker"

	"github.com/gin-gonic/gin"
)

// CreateSearchRequest 创建抓取任务的请求体。
type CreateSearchRequest struct {
	Query string `json:"query" binding:"required"`
}

// handleCreateSearch 受理一次异步抓取。
//
// 返回 202 只代表任务已进入队列；抓取结果通过查询端点读取。
func (s *Server) handleCreateSearch(c *gin.Context) {
	var req CreateSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	searchQuery := strings.TrimSpace(req.Query)
	if searchQuery == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	if err := s.searcher.EnqueueSearch(c.Request.Context(), searchQuery); err != nil {
		switch {
		case errors.Is(err, tracker.ErrDuplicateSearch):
			c.JSON(http.StatusConflict, gin.H{"error": "search already ran recently"})
		case errors.Is(err, tracker.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search queue is full, try again later"})
		default:
			s.logger.Error("enqueue search failed",
				slog.String("query", searchQuery),
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue search"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
		"query":  searchQuery,
	})
}

// handleAllTimeLow 返回每个商品的历史最低价。
func (s *Server) handleAllTimeLow(c *gin.Context) {
	views, err := s.catalog.AllTimeLowSnapshot(c.Request.Context())
	if err != nil {
		s.logger.Error("all time low snapshot failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load products"})
		return
	}
	if views == nil {
		views = []query.ProductView{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(views),
		"products": views,
	})
}

// handleCurrentProducts 返回每个商品的最新价格，可按分类过滤。
func (s *Server) handleCurrentProducts(c *gin.Context) {
	category := strings.TrimSpace(c.Query("category"))

	views, err := s.catalog.CurrentSnapshot(c.Request.Context(), category)
	if err != nil {
		s.logger.Error("current snapshot failed",
			slog.String("category", category),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load products"})
		return
	}
	if views == nil {
		views = []query.ProductView{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(views),
		"products": views,
	})
}

// handleOpportunities 返回当前的捡漏机会列表。
func (s *Server) handleOpportunities(c *gin.Context) {
	opps, err := s.catalog.FindOpportunities(c.Request.Context())
	if err != nil {
		s.logger.Error("opportunity scan failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to find opportunities"})
		return
	}
	if opps == nil {
		opps = []query.Opportunity{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":         len(opps),
		"opportunities": opps,
	})
}

// handleCategories 返回出现过的全部分类标签。
func (s *Server) handleCategories(c *gin.Context) {
	categories, err := s.catalog.ListCategories(c.Request.Context())
	if err != nil {
		s.logger.Error("list categories failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list categories"})
		return
	}
	if categories == nil {
		categories = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":      len(categories),
		"categories": categories,
	})
}
