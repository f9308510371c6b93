package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/config"
	"lpRebalancer/internal/adapters/logger"
	"lpRebalancer/internal/adapters/sqlite"
	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/strategy/analytics"
)

func main() {
	dbPath := flag.String("db", "", "Ledger database, defaults to DB_PATH")
	capital := flag.String("capital", "", "Initial capital per pool, defaults to INITIAL_CAPITAL")
	eventLimit := flag.Int("events", 10, "Recent events to show per pool")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if *dbPath == "" {
		*dbPath = cfg.DBPath
	}
	initial := cfg.Engine.InitialCapital
	if *capital != "" {
		if initial, err = decimal.NewFromString(*capital); err != nil {
			log.Fatalf("Invalid -capital: %v", err)
		}
	}

	appLogger, err := logger.NewZapLogger(logger.LevelWarn)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening ledger %s: %v", *dbPath, err)
	}
	defer repo.Close()

	entries, err := repo.FindAll(ctx)
	if err != nil {
		log.Fatalf("Error reading ledger: %v", err)
	}
	if len(entries) == 0 {
		log.Println("Ledger is empty. Run the rebalancer or backtest_runner -persist first.")
		return
	}

	byPool := analytics.AnalyzeByPool(entries, initial)
	pools := make([]string, 0, len(byPool))
	for p := range byPool {
		pools = append(pools, p)
	}
	sort.Strings(pools)

	// Create a tabwriter for formatted output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Pool\tPositions\tRebalances\tRealized\tDrift\tFinal\tROI%\tFeeAPR%\tMaxDD%\tAvgLife\t")
	for _, p := range pools {
		m := byPool[p]
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%s\t\n",
			p,
			m.Positions,
			m.Rebalances,
			m.TotalRealizedFees.StringFixed(4),
			m.FeeDrift.StringFixed(6),
			m.FinalCapital.StringFixed(2),
			m.ReturnOnInvestment*100,
			m.FeeAPR*100,
			m.MaxDrawdown*100,
			m.AveragePositionLifetime.Round(time.Second),
		)
	}
	w.Flush()

	for _, p := range pools {
		fmt.Printf("\n## %s\n", p)

		total, err := repo.TotalRealizedFees(ctx, p)
		if err != nil {
			log.Printf("Error summing fees for %s: %v", p, err)
		} else {
			fmt.Printf("Realized fees (ledger sum): %s\n", total.String())
		}

		for _, mf := range byPool[p].GetMonthlyFees() {
			fmt.Printf("  %s  %s\n", mf.Month.Format("2006-01"), mf.Fees.StringFixed(4))
		}

		events, err := repo.FindEvents(ctx, p, *eventLimit)
		if err != nil {
			log.Printf("Error reading events for %s: %v", p, err)
			continue
		}
		printEvents(events)
	}
}

func printEvents(events []*domain.Event) {
	if len(events) == 0 {
		return
	}
	fmt.Println("Recent events:")
	for _, ev := range events {
		line := fmt.Sprintf("  %s  %-20s %s", ev.Timestamp.UTC().Format("2006-01-02 15:04:05"), ev.Kind, ev.Message)
		if ev.Err != "" {
			line += " (" + ev.Err + ")"
		}
		fmt.Println(line)
	}
}
