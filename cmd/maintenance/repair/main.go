package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/busticket-backend/internal/config"
	"github.com/smarttransit/busticket-backend/internal/database"
	"github.com/smarttransit/busticket-backend/internal/services"
	"github.com/smarttransit/busticket-backend/pkg/events"
)

func main() {
	var (
		job       string
		reportDir string
		policy    string
		timeout   time.Duration
	)
	flag.StringVar(&job, "job", "all", "job to run: fix-seats, fix-payments or all")
	flag.StringVar(&reportDir, "report-dir", "", "write PDF reports into this directory (overrides MAINTENANCE_REPORT_DIR)")
	flag.StringVar(&policy, "tie-break", "", "double-booking policy: prefer_higher_payment or prefer_earliest")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "abort the run after this long")
	flag.Parse()

	// config.Load reads .env from the working directory when present
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Database.Driver == "memory" {
		log.Fatal("repair needs a persistent store; set STORE_DRIVER=postgres")
	}
	if policy == "" {
		policy = cfg.Maintenance.TieBreakPolicy
	}
	tieBreak, err := services.ParseTieBreakPolicy(policy)
	if err != nil {
		log.Fatal(err)
	}
	if reportDir == "" {
		reportDir = cfg.Maintenance.ReportDir
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	store, err := database.NewStore(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	maintenance := services.NewMaintenanceService(store, tieBreak, events.NewLogPublisher(logger), nil, logger)
	reports := services.NewReportService(reportDir, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch job {
	case "fix-seats":
		fixSeats(ctx, maintenance, reports)
	case "fix-payments":
		fixPayments(ctx, maintenance, reports)
	case "all":
		fixSeats(ctx, maintenance, reports)
		fixPayments(ctx, maintenance, reports)
	default:
		log.Fatalf("unknown job %q", job)
	}
}

func fixSeats(ctx context.Context, maintenance *services.MaintenanceService, reports *services.ReportService) {
	result, err := maintenance.FixSeats(ctx)
	if err != nil {
		log.Fatalf("fix-seats failed: %v", err)
	}
	fmt.Printf("fix-seats: fixed=%d synced=%d conflicts=%d\n", result.FixedCount, result.SyncCount, result.ConflictCount)
	for _, entry := range result.Logs {
		fmt.Printf("  [%s] %s %s %s: %s\n", entry.Action, entry.Route, entry.Date, entry.SeatLabel, entry.Detail)
	}
	path, err := reports.SaveSeatReport(result)
	if err != nil {
		log.Printf("failed to save report: %v", err)
		return
	}
	fmt.Printf("report: %s\n", path)
}

func fixPayments(ctx context.Context, maintenance *services.MaintenanceService, reports *services.ReportService) {
	result, err := maintenance.FixPayments(ctx)
	if err != nil {
		log.Fatalf("fix-payments failed: %v", err)
	}
	fmt.Printf("fix-payments: deleted=%d fixed=%d mismatched=%d skipped=%d\n", result.DeletedCount, result.FixedCount, result.MismatchCount, result.ConflictCount)
	for _, entry := range result.Logs {
		fmt.Printf("  [%s] %s: %s\n", entry.Action, entry.BookingCode, entry.Detail)
	}
	path, err := reports.SavePaymentReport(result)
	if err != nil {
		log.Printf("failed to save report: %v", err)
		return
	}
	fmt.Printf("report: %s\n", path)
}
