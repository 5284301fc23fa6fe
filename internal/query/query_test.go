package query

import (
	"math"
	"testing"
)

func TestEvaluateOpportunity_AllTimeLow(t *testing.T) {
	// 当前价等于历史最低价也算历史最低
	opp, ok := evaluateOpportunity("Widget", []float64{100, 90, 85}, defaultDiscount)
	if !ok {
		t.Fatalf("expected opportunity")
	}
	if opp.Kind != KindAllTimeLow {
		t.Fatalf("expected %s, got %s", KindAllTimeLow, opp.Kind)
	}
	if opp.CurrentPrice != 85 || opp.LowestPrice != 85 {
		t.Fatalf("unexpected prices: %+v", opp)
	}
}

func TestEvaluateOpportunity_BelowAverage(t *testing.T) {
	// 均价 183.33，阈值 155.83；当前价 150 高于最低价 100 但低于阈值
	opp, ok := evaluateOpportunity("Gadget", []float64{300, 100, 150}, defaultDiscount)
	if !ok {
		t.Fatalf("expected opportunity")
	}
	if opp.Kind != KindBelowAverage {
		t.Fatalf("expected %s, got %s", KindBelowAverage, opp.Kind)
	}
	if opp.CurrentPrice != 150 {
		t.Fatalf("unexpected current price: %v", opp.CurrentPrice)
	}
	if math.Abs(opp.AveragePrice-550.0/3.0) > 1e-9 {
		t.Fatalf("unexpected average: %v", opp.AveragePrice)
	}
}

func TestEvaluateOpportunity_FlatHistoryIsAllTimeLow(t *testing.T) {
	// 从未降价的商品当前价等于历史最低价，按规则也算历史最低
	opp, ok := evaluateOpportunity("Stable", []float64{100, 100, 100}, defaultDiscount)
	if !ok || opp.Kind != KindAllTimeLow {
		t.Fatalf("expected all time low for flat history, got %+v ok=%v", opp, ok)
	}
}

func TestEvaluateOpportunity_NoOpportunity(t *testing.T) {
	// 回升后的价格既不是最低也没低于均价阈值
	if _, ok := evaluateOpportunity("Rebound", []float64{100, 80, 95}, defaultDiscount); ok {
		t.Fatalf("rebounded price must not be an opportunity")
	}
	if _, ok := evaluateOpportunity("Rising", []float64{100, 110, 120}, defaultDiscount); ok {
		t.Fatalf("rising price must not be an opportunity")
	}
}

func TestEvaluateOpportunity_ZeroPricesExcluded(t *testing.T) {
	// 0 不参与最低价：当前价 30 低于有效最低价 50 → 历史最低
	opp, ok := evaluateOpportunity("Unknown", []float64{0, 50, 30}, defaultDiscount)
	if !ok || opp.Kind != KindAllTimeLow {
		t.Fatalf("expected all time low, got %+v ok=%v", opp, ok)
	}
	if opp.LowestPrice != 30 {
		t.Fatalf("zero must not count as lowest, got %v", opp.LowestPrice)
	}

	// 0 同样不参与均价
	opp, ok = evaluateOpportunity("Avg", []float64{0, 100, 100, 100, 80}, defaultDiscount)
	if !ok || opp.Kind != KindAllTimeLow {
		t.Fatalf("expected all time low, got %+v ok=%v", opp, ok)
	}
	if math.Abs(opp.AveragePrice-95) > 1e-9 {
		t.Fatalf("zero must not count in average, got %v", opp.AveragePrice)
	}
}

func TestEvaluateOpportunity_CurrentZero(t *testing.T) {
	if _, ok := evaluateOpportunity("Ghost", []float64{100, 90, 0}, defaultDiscount); ok {
		t.Fatalf("zero current price must not be an opportunity")
	}
	if _, ok := evaluateOpportunity("AllZero", []float64{0, 0}, defaultDiscount); ok {
		t.Fatalf("all-zero history must not be an opportunity")
	}
}

func TestEvaluateOpportunity_Empty(t *testing.T) {
	if _, ok := evaluateOpportunity("Nothing", nil, defaultDiscount); ok {
		t.Fatalf("empty history must not be an opportunity")
	}
}

func TestEvaluateOpportunity_AveragePrecision(t *testing.T) {
	opp, ok := evaluateOpportunity("Precise", []float64{200, 180, 150, 100}, defaultDiscount)
	if !ok {
		t.Fatalf("expected opportunity")
	}
	if opp.Kind != KindAllTimeLow {
		t.Fatalf("expected all time low, got %s", opp.Kind)
	}
	if math.Abs(opp.AveragePrice-157.5) > 1e-9 {
		t.Fatalf("unexpected average: %v", opp.AveragePrice)
	}
}
