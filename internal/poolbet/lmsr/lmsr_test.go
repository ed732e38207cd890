package lmsr

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNewMarketMakerValid(t *testing.T) {
	mm, err := NewMarketMaker(d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mm.B().Equal(d(100)) {
		t.Errorf("expected b=100, got %s", mm.B())
	}
}

func TestNewMarketMakerZeroB(t *testing.T) {
	_, err := NewMarketMaker(d(0))
	if err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b=0, got %v", err)
	}
}

func TestNewMarketMakerNegativeB(t *testing.T) {
	_, err := NewMarketMaker(d(-50))
	if err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b=-50, got %v", err)
	}
}

func TestPriceInitiallyFiftyFifty(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	price := mm.Price(d(0), d(0))
	if !price.Equal(d(0.5)) {
		t.Errorf("expected initial price 0.5, got %s", price)
	}
}

func TestPriceBuyingYesIncreasesPrice(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	priceBefore := mm.Price(d(0), d(0))
	priceAfter := mm.Price(d(10), d(0))
	if priceAfter.LessThanOrEqual(priceBefore) {
		t.Errorf("buying YES should increase price: before=%s after=%s", priceBefore, priceAfter)
	}
}

func TestPriceSumsToOne(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	one := decimal.NewFromInt(1)
	tolerance := d(0.0000001)

	tests := []struct{ qYes, qNo float64 }{
		{0, 0}, {10, 0}, {0, 10}, {30, 10}, {100, 200}, {500, 100}, {-50, 30},
	}
	for _, tt := range tests {
		pYes := mm.Price(d(tt.qYes), d(tt.qNo))
		pNo := mm.PriceNo(d(tt.qYes), d(tt.qNo))
		sum := pYes.Add(pNo)
		if sum.Sub(one).Abs().GreaterThan(tolerance) {
			t.Errorf("prices should sum to 1: pYes=%s pNo=%s sum=%s", pYes, pNo, sum)
		}
	}
}

func TestTradeCostBuyPositive(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost := mm.TradeCost(d(0), d(0), d(10))
	if cost.LessThanOrEqual(decimal.Zero) {
		t.Errorf("buying YES should cost positive amount, got %s", cost)
	}
}

func TestTradeCostSellNegative(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost := mm.TradeCost(d(10), d(0), d(-10))
	if cost.GreaterThanOrEqual(decimal.Zero) {
		t.Errorf("selling YES should return money, got %s", cost)
	}
}

func TestCostPathIndependence(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	tolerance := d(0.0000001)

	cost1 := mm.TradeCost(d(0), d(0), d(10))
	cost2 := mm.TradeCost(d(10), d(0), d(5))
	sequential := cost1.Add(cost2)
	direct := mm.TradeCost(d(0), d(0), d(15))

	if sequential.Sub(direct).Abs().GreaterThan(tolerance) {
		t.Errorf("LMSR should be path-independent: sequential=%s direct=%s", sequential, direct)
	}
}

func TestCostConvexity(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	cost1 := mm.TradeCost(d(0), d(0), d(10))
	cost2 := mm.TradeCost(d(10), d(0), d(10))
	if cost2.LessThanOrEqual(cost1) {
		t.Errorf("second batch should cost more, first=%s second=%s", cost1, cost2)
	}
}

func TestMaxLossBounded(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	maxLoss := mm.MaxLoss()

	initialCost := mm.Cost(d(0), d(0))
	highQCost := mm.Cost(d(10000), d(0))
	traderPaid := highQCost.Sub(initialCost)
	mmLoss := decimal.NewFromInt(10000).Sub(traderPaid)

	if mmLoss.GreaterThan(maxLoss) {
		t.Errorf("market maker loss %s exceeds theoretical bound %s", mmLoss, maxLoss)
	}
}

func TestPriceExtremeQuantitiesNoPanic(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	tests := []struct {
		name      string
		qYes, qNo float64
	}{
		{"very large YES", 100000, 0},
		{"very large NO", 0, 100000},
		{"both large equal", 100000, 100000},
		{"very negative YES", -100000, 0},
		{"overflow-scale values", 1e15, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := mm.Price(d(tt.qYes), d(tt.qNo))
			if price.LessThan(decimal.Zero) || price.GreaterThan(decimal.NewFromInt(1)) {
				t.Errorf("price out of [0,1]: %s", price)
			}
		})
	}
}

func TestPriceClampedToBounds(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))

	price := mm.Price(d(100000), d(0))
	if price.GreaterThan(MaxPrice) || price.LessThan(MaxPrice) {
		t.Errorf("expected price clamped to MaxPrice %s, got %s", MaxPrice, price)
	}

	price = mm.Price(d(0), d(100000))
	if price.LessThan(MinPrice) || price.GreaterThan(MinPrice) {
		t.Errorf("expected price clamped to MinPrice %s, got %s", MinPrice, price)
	}
}

func TestValidateTradeRejectsBeyondBounds(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))

	if err := mm.ValidateTrade(d(0), d(0), d(100000)); err != ErrPriceBoundExceeded {
		t.Errorf("expected ErrPriceBoundExceeded for massive buy, got %v", err)
	}
	if err := mm.ValidateTrade(d(0), d(0), d(-100000)); err != ErrPriceBoundExceeded {
		t.Errorf("expected ErrPriceBoundExceeded for massive sell, got %v", err)
	}
}

func TestValidateTradeAcceptsModerate(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	if err := mm.ValidateTrade(d(0), d(0), d(10)); err != nil {
		t.Errorf("moderate trade should be accepted, got %v", err)
	}
}

func TestFillPriceZeroDelta(t *testing.T) {
	mm, _ := NewMarketMaker(d(100))
	fill := mm.FillPrice(d(0), d(0), d(0))
	if !fill.Equal(d(0.5)) {
		t.Errorf("zero-delta fill price should equal current price 0.5, got %s", fill)
	}
}

func TestDeriveLiquidityHigherVolumeHigherB(t *testing.T) {
	low, err := DeriveLiquidity(d(1000), d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := DeriveLiquidity(d(100000), d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if high.LessThanOrEqual(low) {
		t.Errorf("higher expected volume should derive higher b: low=%s high=%s", low, high)
	}
}

func TestDeriveLiquidityFloorsAtMinimum(t *testing.T) {
	b, err := DeriveLiquidity(d(1), d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.LessThan(decimal.NewFromInt(10)) {
		t.Errorf("expected b floored at 10, got %s", b)
	}
}

func TestDeriveLiquidityRejectsNonPositiveScale(t *testing.T) {
	if _, err := DeriveLiquidity(d(1000), d(0)); err == nil {
		t.Error("expected error for zero scaleFactor")
	}
}

func TestLogSumExpNoOverflow(t *testing.T) {
	result := logSumExp([]float64{1000, 1001})
	if math.IsNaN(result) || math.IsInf(result, 1) {
		t.Errorf("logSumExp should not overflow: got %f", result)
	}
}

func TestLogSumExpEmpty(t *testing.T) {
	result := logSumExp(nil)
	if !math.IsInf(result, -1) {
		t.Errorf("expected -Inf for empty input, got %f", result)
	}
}

func TestLogSumExpEqualValues(t *testing.T) {
	result := logSumExp([]float64{3, 3})
	expected := 3.0 + math.Log(2)
	if math.Abs(result-expected) > 1e-10 {
		t.Errorf("logSumExp([3,3]) should be %f, got %f", expected, result)
	}
}
