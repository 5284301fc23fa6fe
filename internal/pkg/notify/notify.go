package notify

import (
	"context"

	"pricescout/internal/query"
)

// Notifier 定义捡漏提醒的通知接口。
type Notifier interface {
	// SendOpportunities 把一轮抓取发现的买入机会汇总成一封摘要发出。
	// 空列表不发送。
	SendOpportunities(ctx context.Context, searchQuery string, opportunities []query.Opportunity) error
}
