package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
)

func entry(pool string, opened, closed time.Time, exit, accrued, realized int64, reason domain.CloseReason) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		Pool:            pool,
		OpenedAt:        opened,
		ClosedAt:        closed,
		CapitalDeployed: decimal.NewFromInt(1000),
		ExitValue:       decimal.NewFromInt(exit),
		AccruedFees:     decimal.NewFromInt(accrued),
		RealizedFees:    decimal.NewFromInt(realized),
		CloseReason:     reason,
	}
}

func testEntries() []*domain.LedgerEntry {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*domain.LedgerEntry{
		// Deliberately out of order.
		entry("p", jan1.Add(24*time.Hour), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 909, 0, 0, domain.CloseReasonShutdown),
		entry("p", jan1, jan1.Add(12*time.Hour), 990, 4, 5, domain.CloseReasonRebalance),
		entry("p", jan1.Add(12*time.Hour), jan1.Add(24*time.Hour), 1000, 10, 10, domain.CloseReasonRebalance),
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAnalyzePerformance(t *testing.T) {
	initial := decimal.NewFromInt(1000)
	metrics := AnalyzePerformance(testEntries(), initial)

	// Verify basic metrics
	if metrics.Positions != 3 {
		t.Errorf("Expected 3 positions, got %d", metrics.Positions)
	}
	if metrics.Rebalances != 2 {
		t.Errorf("Expected 2 rebalances, got %d", metrics.Rebalances)
	}
	if metrics.Shutdowns != 1 {
		t.Errorf("Expected 1 shutdown, got %d", metrics.Shutdowns)
	}
	if !metrics.TotalRealizedFees.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected 15 realized fees, got %s", metrics.TotalRealizedFees)
	}
	if !metrics.TotalAccruedFees.Equal(decimal.NewFromInt(14)) {
		t.Errorf("Expected 14 accrued fees, got %s", metrics.TotalAccruedFees)
	}
	if !metrics.FeeDrift.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected fee drift of 1, got %s", metrics.FeeDrift)
	}
	if !metrics.FinalCapital.Equal(decimal.NewFromInt(909)) {
		t.Errorf("Expected final capital of 909, got %s", metrics.FinalCapital)
	}
	if !approx(metrics.ReturnOnInvestment, -0.091) {
		t.Errorf("Expected -0.091 ROI, got %f", metrics.ReturnOnInvestment)
	}

	// Verify advanced metrics
	if metrics.ActivePeriod != 31*24*time.Hour {
		t.Errorf("Expected 31 day active period, got %s", metrics.ActivePeriod)
	}
	if want := 0.015 * 8760 / 744; !approx(metrics.FeeAPR, want) {
		t.Errorf("Expected %f fee APR, got %f", want, metrics.FeeAPR)
	}
	if metrics.AveragePositionLifetime != 248*time.Hour {
		t.Errorf("Expected 248h average lifetime, got %s", metrics.AveragePositionLifetime)
	}
	if metrics.LongestPosition != 720*time.Hour {
		t.Errorf("Expected 720h longest position, got %s", metrics.LongestPosition)
	}

	// Verify equity curve
	if len(metrics.EquityCurve) != 3 {
		t.Fatalf("Expected 3 equity curve points, got %d", len(metrics.EquityCurve))
	}
	if metrics.EquityCurve[0].Value != 995 || metrics.EquityCurve[1].Value != 1010 || metrics.EquityCurve[2].Value != 909 {
		t.Errorf("Unexpected equity curve %+v", metrics.EquityCurve)
	}

	// Verify monthly fees
	monthly := metrics.GetMonthlyFees()
	if len(monthly) != 2 {
		t.Fatalf("Expected 2 months, got %d", len(monthly))
	}
	if monthly[0].Month.Month() != time.January || !monthly[0].Fees.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Unexpected January fees %+v", monthly[0])
	}
	if !monthly[1].Fees.IsZero() {
		t.Errorf("Expected no February fees, got %s", monthly[1].Fees)
	}
}

func TestAnalyzePerformanceDrawdown(t *testing.T) {
	metrics := AnalyzePerformance(testEntries(), decimal.NewFromInt(1000))

	if !approx(metrics.MaxDrawdown, 101.0/1010.0) {
		t.Errorf("Expected %f max drawdown, got %f", 101.0/1010.0, metrics.MaxDrawdown)
	}
	if len(metrics.Drawdowns) != 2 {
		t.Fatalf("Expected 2 drawdown periods, got %d", len(metrics.Drawdowns))
	}
	if !approx(metrics.Drawdowns[0].Depth, 0.005) {
		t.Errorf("Expected 0.005 first drawdown depth, got %f", metrics.Drawdowns[0].Depth)
	}
	if metrics.Drawdowns[0].Duration != 12*time.Hour {
		t.Errorf("Expected first drawdown to recover after 12h, got %s", metrics.Drawdowns[0].Duration)
	}
	if metrics.Drawdowns[1].EndValue != 909 {
		t.Errorf("Expected open drawdown to end at 909, got %f", metrics.Drawdowns[1].EndValue)
	}
}

func TestAnalyzePerformanceEmpty(t *testing.T) {
	metrics := AnalyzePerformance(nil, decimal.NewFromInt(1000))
	if metrics.Positions != 0 {
		t.Errorf("Expected 0 positions, got %d", metrics.Positions)
	}
	if !metrics.FinalCapital.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected final capital of 1000, got %s", metrics.FinalCapital)
	}
	if metrics.FeeAPR != 0 || metrics.ReturnOnInvestment != 0 {
		t.Errorf("Expected zero returns, got APR %f ROI %f", metrics.FeeAPR, metrics.ReturnOnInvestment)
	}
}

func TestAnalyzePerformanceDoesNotReorderInput(t *testing.T) {
	entries := testEntries()
	first := entries[0]
	AnalyzePerformance(entries, decimal.NewFromInt(1000))
	if entries[0] != first {
		t.Errorf("Input slice was reordered")
	}
}

func TestAnalyzeByPool(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := append(testEntries(), entry("q", jan1, jan1.Add(time.Hour), 1001, 1, 1, domain.CloseReasonShutdown))

	byPool := AnalyzeByPool(entries, decimal.NewFromInt(1000))
	if len(byPool) != 2 {
		t.Fatalf("Expected 2 pools, got %d", len(byPool))
	}
	if byPool["p"].Positions != 3 || byPool["q"].Positions != 1 {
		t.Errorf("Unexpected grouping: p=%d q=%d", byPool["p"].Positions, byPool["q"].Positions)
	}
	if !byPool["q"].FinalCapital.Equal(decimal.NewFromInt(1002)) {
		t.Errorf("Expected q final capital 1002, got %s", byPool["q"].FinalCapital)
	}
}

func TestApplyValuations(t *testing.T) {
	metrics := AnalyzePerformance(testEntries(), decimal.NewFromInt(1000))
	closeOnly := metrics.MaxDrawdown

	metrics.ApplyValuations(nil)
	if metrics.MaxDrawdown != closeOnly || len(metrics.EquityCurve) != 3 {
		t.Fatalf("Empty valuations must leave the close-based curve, got %d points", len(metrics.EquityCurve))
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	values := []float64{1000, 980, 1000, 1020, 950, 1015}
	points := make([]ValuePoint, len(values))
	for i, v := range values {
		points[i] = ValuePoint{Time: start.Add(time.Duration(i) * time.Hour), Price: 100, Value: v}
	}
	metrics.ApplyValuations(points)

	if len(metrics.EquityCurve) != len(values) {
		t.Fatalf("Expected %d equity points, got %d", len(values), len(metrics.EquityCurve))
	}
	if !approx(metrics.MaxDrawdown, 70.0/1020.0) {
		t.Errorf("Expected %f max drawdown, got %f", 70.0/1020.0, metrics.MaxDrawdown)
	}
	if len(metrics.Drawdowns) != 2 {
		t.Fatalf("Expected 2 drawdown periods, got %d", len(metrics.Drawdowns))
	}
	if !approx(metrics.Drawdowns[0].Depth, 0.02) || metrics.Drawdowns[0].EndValue != 1020 {
		t.Errorf("Unexpected intra-position drawdown %+v", metrics.Drawdowns[0])
	}
	if metrics.Drawdowns[1].EndTime != points[5].Time {
		t.Errorf("Open drawdown should end at the last valuation, got %v", metrics.Drawdowns[1].EndTime)
	}
	// Fee and capital figures still come from the ledger.
	if metrics.Positions != 3 || !metrics.FinalCapital.Equal(decimal.NewFromInt(909)) {
		t.Errorf("Ledger metrics changed: positions %d, final %s", metrics.Positions, metrics.FinalCapital)
	}
}
