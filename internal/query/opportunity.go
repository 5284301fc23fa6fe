package query

// defaultDiscount 是"低于均价"判定的默认折扣系数。
const defaultDiscount = 0.85

// 机会类型。历史最低价优先于低于均价。
const (
	KindAllTimeLow   = "all_time_low"
	KindBelowAverage = "below_average"
)

// Opportunity 表示一个值得关注的买入机会。
type Opportunity struct {
	Name         string  `json:"name"`
	Kind         string  `json:"kind"`
	CurrentPrice float64 `json:"current_price"`
	LowestPrice  float64 `json:"lowest_price"`
	AveragePrice float64 `json:"average_price"`
}

// evaluateOpportunity 判定一个商品的价格历史是否构成买入机会。
//
// history 按时间升序排列，最后一个元素是当前价。最低价与均价都只在
// 正价格上计算——价格为 0 表示当时未能解析出价格，不代表免费。
// 规则：当前价 <= 历史最低价 → 历史最低；否则 当前价 < 均价*discount
// → 低于均价。当前价为 0 的商品永远不是机会。
func evaluateOpportunity(name string, history []float64, discount float64) (Opportunity, bool) {
	if len(history) == 0 {
		return Opportunity{}, false
	}
	current := history[len(history)-1]
	if current <= 0 {
		return Opportunity{}, false
	}

	var (
		lowest float64
		sum    float64
		count  int
	)
	for _, price := range history {
		if price <= 0 {
			continue
		}
		if count == 0 || price < lowest {
			lowest = price
		}
		sum += price
		count++
	}
	if count == 0 {
		return Opportunity{}, false
	}
	avg := sum / float64(count)

	opp := Opportunity{
		Name:         name,
		CurrentPrice: current,
		LowestPrice:  lowest,
		AveragePrice: avg,
	}
	switch {
	case current <= lowest:
		opp.Kind = KindAllTimeLow
		return opp, true
	case current < avg*discount:
		opp.Kind = KindBelowAverage
		return opp, true
	}
	return Opportunity{}, false
}
