package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
)

const hoursPerYear = 365 * 24

// PerformanceMetrics summarizes the closed positions of one pool.
type PerformanceMetrics struct {
	// Basic Metrics
	Positions          int
	Rebalances         int
	Shutdowns          int
	InitialCapital     decimal.Decimal
	FinalCapital       decimal.Decimal
	TotalAccruedFees   decimal.Decimal
	TotalRealizedFees  decimal.Decimal
	FeeDrift           decimal.Decimal // Realized minus accrued
	ReturnOnInvestment float64
	FeeAPR             float64 // Realized fees over initial capital, annualized
	MaxDrawdown        float64

	// Advanced Metrics
	AveragePositionLifetime time.Duration
	LongestPosition         time.Duration
	ActivePeriod            time.Duration
	MonthlyFees             map[string]decimal.Decimal
	Drawdowns               []Drawdown
	EquityCurve             []EquityPoint
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint is the strategy's value at one point in time: the capital
// recovered at a close, or a per-sample valuation when one was applied.
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// ValuePoint marks the strategy to market at one sample: the open position's
// value plus its accrued fees, or the idle capital.
type ValuePoint struct {
	Time      time.Time
	Price     float64
	Value     float64
	Rebalance bool
}

// AnalyzePerformance computes metrics over the ledger entries of one pool.
// The capital after each close is its exit value plus realized fees.
func AnalyzePerformance(entries []*domain.LedgerEntry, initialCapital decimal.Decimal) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		InitialCapital:    initialCapital,
		FinalCapital:      initialCapital,
		TotalAccruedFees:  decimal.Zero,
		TotalRealizedFees: decimal.Zero,
		FeeDrift:          decimal.Zero,
		MonthlyFees:       make(map[string]decimal.Decimal),
		Drawdowns:         make([]Drawdown, 0),
		EquityCurve:       make([]EquityPoint, 0),
	}

	if len(entries) == 0 {
		return metrics
	}

	sorted := make([]*domain.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClosedAt.Before(sorted[j].ClosedAt)
	})

	initial := initialCapital.InexactFloat64()
	equity := newEquityTracker(initial)
	var totalLifetime time.Duration

	for _, e := range sorted {
		metrics.Positions++
		switch e.CloseReason {
		case domain.CloseReasonRebalance:
			metrics.Rebalances++
		case domain.CloseReasonShutdown:
			metrics.Shutdowns++
		}

		metrics.TotalAccruedFees = metrics.TotalAccruedFees.Add(e.AccruedFees)
		metrics.TotalRealizedFees = metrics.TotalRealizedFees.Add(e.RealizedFees)
		month := e.ClosedAt.UTC().Format("2006-01")
		metrics.MonthlyFees[month] = metrics.MonthlyFees[month].Add(e.RealizedFees)

		lifetime := e.Duration()
		totalLifetime += lifetime
		if lifetime > metrics.LongestPosition {
			metrics.LongestPosition = lifetime
		}

		metrics.FinalCapital = e.ExitValue.Add(e.RealizedFees)
		equity.add(e.ClosedAt, metrics.FinalCapital.InexactFloat64())
	}
	metrics.EquityCurve, metrics.Drawdowns, metrics.MaxDrawdown = equity.finish()

	metrics.FeeDrift = metrics.TotalRealizedFees.Sub(metrics.TotalAccruedFees)
	metrics.AveragePositionLifetime = totalLifetime / time.Duration(len(sorted))

	first := sorted[0].OpenedAt
	for _, e := range sorted {
		if e.OpenedAt.Before(first) {
			first = e.OpenedAt
		}
	}
	last := sorted[len(sorted)-1]
	metrics.ActivePeriod = last.ClosedAt.Sub(first)

	if initial > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalCapital.InexactFloat64() - initial) / initial
		if hours := metrics.ActivePeriod.Hours(); hours > 0 {
			metrics.FeeAPR = metrics.TotalRealizedFees.InexactFloat64() / initial * (hoursPerYear / hours)
		}
	}

	return metrics
}

// ApplyValuations replaces the close-to-close equity curve with per-sample
// valuations, so drawdowns inside a position's lifetime are counted too.
func (m *PerformanceMetrics) ApplyValuations(points []ValuePoint) {
	if len(points) == 0 {
		return
	}
	equity := newEquityTracker(m.InitialCapital.InexactFloat64())
	for _, p := range points {
		equity.add(p.Time, p.Value)
	}
	m.EquityCurve, m.Drawdowns, m.MaxDrawdown = equity.finish()
}

// equityTracker follows the running peak of an equity series and records the
// drawdown periods below it.
type equityTracker struct {
	peak      float64
	current   *Drawdown
	curve     []EquityPoint
	drawdowns []Drawdown
	max       float64
	lastTime  time.Time
	lastValue float64
}

func newEquityTracker(initial float64) *equityTracker {
	return &equityTracker{
		peak:      initial,
		curve:     make([]EquityPoint, 0),
		drawdowns: make([]Drawdown, 0),
	}
}

func (t *equityTracker) add(at time.Time, value float64) {
	if value > t.peak {
		t.peak = value
		if t.current != nil {
			t.closeDrawdown(at, value)
		}
	} else if value < t.peak && t.peak > 0 {
		depth := (t.peak - value) / t.peak
		if t.current == nil {
			t.current = &Drawdown{StartTime: at, StartValue: t.peak, Depth: depth}
		} else {
			t.current.Depth = math.Max(t.current.Depth, depth)
		}
		if depth > t.max {
			t.max = depth
		}
	}

	var dd float64
	if t.peak > 0 {
		dd = (t.peak - value) / t.peak
	}
	t.curve = append(t.curve, EquityPoint{Time: at, Value: value, Drawdown: dd})
	t.lastTime, t.lastValue = at, value
}

func (t *equityTracker) closeDrawdown(at time.Time, value float64) {
	t.current.EndTime = at
	t.current.EndValue = value
	t.current.Duration = at.Sub(t.current.StartTime)
	t.drawdowns = append(t.drawdowns, *t.current)
	t.current = nil
}

// finish closes a drawdown still open at the last point.
func (t *equityTracker) finish() ([]EquityPoint, []Drawdown, float64) {
	if t.current != nil {
		t.closeDrawdown(t.lastTime, t.lastValue)
	}
	return t.curve, t.drawdowns, t.max
}

// AnalyzeByPool groups entries by pool and analyzes each group with the same
// initial capital.
func AnalyzeByPool(entries []*domain.LedgerEntry, initialCapital decimal.Decimal) map[string]*PerformanceMetrics {
	grouped := make(map[string][]*domain.LedgerEntry)
	for _, e := range entries {
		grouped[e.Pool] = append(grouped[e.Pool], e)
	}
	out := make(map[string]*PerformanceMetrics, len(grouped))
	for pool, list := range grouped {
		out[pool] = AnalyzePerformance(list, initialCapital)
	}
	return out
}

// GetMonthlyFees returns the realized fees per month in chronological order.
func (m *PerformanceMetrics) GetMonthlyFees() []MonthlyFees {
	out := make([]MonthlyFees, 0, len(m.MonthlyFees))
	for month, fees := range m.MonthlyFees {
		date, _ := time.Parse("2006-01", month)
		out = append(out, MonthlyFees{Month: date, Fees: fees})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Month.Before(out[j].Month)
	})
	return out
}

// MonthlyFees represents the fees realized in one month.
type MonthlyFees struct {
	Month time.Time
	Fees  decimal.Decimal
}
