package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"pricescout/internal/pkg/metrics"

	"golang.org/x/time/rate"
)

// ErrUnavailable 表示分类服务整体不可用（网络失败或服务端错误）。
// 调用方应当把它当作"本轮分类整体失败"处理，而不是单条失败。
var ErrUnavailable = errors.New("classifier unavailable")

const maxAttempts = 3

// Client 是零样本分类服务的 HTTP 适配器。
//
// 服务契约：POST 一批文本与候选标签，为每个不同的文本返回恰好一个
// 最佳匹配标签（标签必须来自候选集合）。
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient 创建分类服务客户端。
func NewClient(endpoint, apiKey string, timeout time.Duration, r float64, burst int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if r <= 0 {
		r = 2
	}
	if burst <= 0 {
		burst = 4
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(r), burst),
		logger:     logger,
	}
}

type classifyRequest struct {
	Texts  []string `json:"texts"`
	Labels []string `json:"labels"`
}

type classifyResponse struct {
	Results []struct {
		Text  string `json:"text"`
		Label string `json:"label"`
	} `json:"results"`
}

// Classify 对一批文本执行零样本分类，返回 文本 -> 标签 的映射。
//
// 整批文本走一次 HTTP 调用（服务端按批次摊销成本）。瞬时失败最多
// 重试 3 次，全部失败时返回包装了 ErrUnavailable 的错误。
func (c *Client) Classify(ctx context.Context, texts []string, labels []string) (map[string]string, error) {
	if len(texts) == 0 {
		return map[string]string{}, nil
	}
	if len(labels) == 0 {
		return nil, errors.New("empty label set")
	}

	payload, err := json.Marshal(classifyRequest{Texts: texts, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		result, err := c.doClassify(ctx, payload)
		if err == nil {
			return c.buildMapping(texts, labels, result)
		}
		lastErr = err
		c.logger.Warn("classifier request failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doClassify(ctx context.Context, payload []byte) (*classifyResponse, error) {
	start := time.Now()
	defer func() {
		metrics.ClassifierRequestDuration.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var parsed classifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &parsed, nil
}

// buildMapping 校验响应并构造映射：每个不同的输入文本必须恰好有一个
// 来自候选集合的标签。
func (c *Client) buildMapping(texts, labels []string, resp *classifyResponse) (map[string]string, error) {
	allowed := make(map[string]bool, len(labels))
	for _, l := range labels {
		allowed[l] = true
	}

	out := make(map[string]string, len(resp.Results))
	for _, r := range resp.Results {
		if !allowed[r.Label] {
			return nil, fmt.Errorf("label %q not in candidate set", r.Label)
		}
		out[r.Text] = r.Label
	}

	for _, text := range texts {
		if _, ok := out[text]; !ok {
			return nil, fmt.Errorf("missing label for text %q", text)
		}
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
