package category

import (
	"context"
	"fmt"
	"log/slog"

	"pricescout/internal/pkg/metrics"
)

// 两阶段分类使用的标签集合。
const (
	LabelMainProduct = "Main Product"
	LabelAccessory   = "Accessory"
)

var (
	// TypeLabels 是第一阶段的粗粒度类型标签。
	TypeLabels = []string{LabelMainProduct, LabelAccessory}

	// CategoryLabels 是第二阶段的领域分类标签。
	// 不设置置信度阈值，永远取得分最高的标签。
	CategoryLabels = []string{
		"Laptop",
		"Smartphone",
		"Mouse",
		"Keyboard",
		"Monitor",
		"Accessory",
		"Component",
		"Gaming Console",
	}
)

// Classifier 是零样本分类能力的消费端接口。
//
// 契约：为每个不同的输入文本返回恰好一个来自候选集合的标签。
type Classifier interface {
	Classify(ctx context.Context, texts []string, labels []string) (map[string]string, error)
}

// Pipeline 是两阶段分类流水线。
//
// 第一阶段把噪声较多的商品名分成主商品和配件，只有主商品进入第二阶段
// 的领域分类。配件不出现在结果映射中，由调用方默认到 "Uncategorized"。
type Pipeline struct {
	clf    Classifier
	logger *slog.Logger
}

// NewPipeline 创建分类流水线。
func NewPipeline(clf Classifier, logger *slog.Logger) *Pipeline {
	return &Pipeline{clf: clf, logger: logger}
}

// ClassifyBatch 对一批商品名执行两阶段分类，返回 商品名 -> 分类 的映射。
//
// 每个阶段只调用一次分类服务（整批文本一次请求）。输入中的重复名称
// 被合并，一次分类结果对所有出现处复用。任一阶段失败都会使整个分类
// 步骤失败——调用方应当把所有商品降级为默认分类而不是阻塞入库。
func (p *Pipeline) ClassifyBatch(ctx context.Context, names []string) (map[string]string, error) {
	unique := dedupeNames(names)
	if len(unique) == 0 {
		return map[string]string{}, nil
	}

	typeByName, err := p.clf.Classify(ctx, unique, TypeLabels)
	if err != nil {
		metrics.ClassifierRequestsTotal.WithLabelValues("type", "failed").Inc()
		return nil, fmt.Errorf("type stage: %w", err)
	}
	metrics.ClassifierRequestsTotal.WithLabelValues("type", "success").Inc()

	mains := make([]string, 0, len(unique))
	for _, name := range unique {
		if typeByName[name] == LabelMainProduct {
			mains = append(mains, name)
		}
	}
	p.logger.Debug("type stage finished",
		slog.Int("total", len(unique)),
		slog.Int("main_products", len(mains)))

	if len(mains) == 0 {
		return map[string]string{}, nil
	}

	categoryByName, err := p.clf.Classify(ctx, mains, CategoryLabels)
	if err != nil {
		metrics.ClassifierRequestsTotal.WithLabelValues("category", "failed").Inc()
		return nil, fmt.Errorf("category stage: %w", err)
	}
	metrics.ClassifierRequestsTotal.WithLabelValues("category", "success").Inc()

	result := make(map[string]string, len(mains))
	for _, name := range mains {
		if label, ok := categoryByName[name]; ok {
			result[name] = label
		}
	}
	return result, nil
}

// dedupeNames 去重并保持首次出现的顺序，空白名称被丢弃。
func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
