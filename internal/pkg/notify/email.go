package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pricescout/internal/config"
	"pricescout/internal/query"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件摘要通知。
type EmailNotifier struct {
	cfg     *config.EmailConfig
	toEmail string
	logger  *slog.Logger
}

// NewEmailNotifier 创建邮件通知器。toEmail 为空时所有发送都被跳过。
func NewEmailNotifier(cfg *config.EmailConfig, toEmail string, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:     cfg,
		toEmail: toEmail,
		logger:  logger,
	}
}

// SendOpportunities 发送一封机会摘要邮件。
// SMTP 配置不完整或收件人为空时记录日志并静默跳过，不算错误。
func (n *EmailNotifier) SendOpportunities(ctx context.Context, searchQuery string, opportunities []query.Opportunity) error {
	if len(opportunities) == 0 {
		return nil
	}
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(n.toEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.toEmail)
	m.SetHeader("Subject", fmt.Sprintf("[PriceScout] %d deal(s) found for %q", len(opportunities), searchQuery))
	m.SetBody("text/html", buildHTMLBody(searchQuery, opportunities))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("opportunity digest sent",
		slog.String("to", n.toEmail),
		slog.Int("opportunities", len(opportunities)))
	return nil
}

func buildHTMLBody(searchQuery string, opportunities []query.Opportunity) string {
	var rows strings.Builder
	for _, opp := range opportunities {
		rows.WriteString(fmt.Sprintf(`
      <tr>
        <td style="padding:8px 12px;">%s</td>
        <td style="padding:8px 12px;">%s</td>
        <td style="padding:8px 12px; font-weight:bold; color:#ef4444;">%.2f Lei</td>
        <td style="padding:8px 12px; color:#6b7280;">%s</td>
      </tr>`, opp.Name, kindLabel(opp.Kind), opp.CurrentPrice, priceContext(opp)))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 640px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; overflow: hidden;">
    <div style="background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold;">[PriceScout] 🎯 Deal digest</div>
    <div style="padding: 20px;">
      <table style="width:100%%; border-collapse: collapse;">
        <tr style="text-align:left; border-bottom: 1px solid #e5e7eb;">
          <th style="padding:8px 12px;">Product</th>
          <th style="padding:8px 12px;">Kind</th>
          <th style="padding:8px 12px;">Now</th>
          <th style="padding:8px 12px;">Context</th>
        </tr>%s
      </table>
      <div style="margin-top: 20px; font-size: 12px; color: #6b7280;">Search query: %s</div>
    </div>
  </div>
</body>
</html>`, rows.String(), searchQuery)
}

func kindLabel(kind string) string {
	switch kind {
	case query.KindAllTimeLow:
		return "🔥 All-time low"
	case query.KindBelowAverage:
		return "💡 Below average"
	default:
		return kind
	}
}

func priceContext(opp query.Opportunity) string {
	if opp.Kind == query.KindBelowAverage {
		return fmt.Sprintf("avg %.2f Lei", opp.AveragePrice)
	}
	return fmt.Sprintf("low %.2f Lei", opp.LowestPrice)
}
