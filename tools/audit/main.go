package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	billingrepo "rental-cloud/internal/billing/infrastructure/postgres"
	"rental-cloud/internal/consistency"
	"rental-cloud/internal/export"
	"rental-cloud/internal/logger"
	meteringrepo "rental-cloud/internal/metering/infrastructure/postgres"
	tenancyrepo "rental-cloud/internal/tenancy/infrastructure/postgres"
	"rental-cloud/internal/txn"
)

type options struct {
	dbURL        string
	repair       bool
	dryRun       bool
	maxRepairs   int
	skipCritical bool
	jsonOut      bool
	exportXLSX   string
	exportBill   string
	exportPDF    string
}

func main() {
	var opts options
	flag.StringVar(&opts.dbURL, "db-url", os.Getenv("DB_DSN"), "postgres connection string")
	flag.BoolVar(&opts.repair, "repair", false, "apply fixes for found issues")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "with -repair, report fixes without writing")
	flag.IntVar(&opts.maxRepairs, "max-repairs", 0, "cap on applied fixes, 0 = unlimited")
	flag.BoolVar(&opts.skipCritical, "skip-critical", true, "leave CRITICAL issues for manual review")
	flag.BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	flag.StringVar(&opts.exportXLSX, "export-xlsx", "", "write the bill register workbook to this path")
	flag.StringVar(&opts.exportBill, "export-bill", "", "bill id to render as a PDF statement")
	flag.StringVar(&opts.exportPDF, "export-pdf", "", "output path for -export-bill, default <bill-id>.pdf")
	flag.Parse()

	if opts.dbURL == "" {
		fmt.Fprintln(os.Stderr, "audit: -db-url or DB_DSN is required")
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "audit: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	log := logger.New("production")

	sqlDB, err := sql.Open("pgx", opts.dbURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	contractRepo := tenancyrepo.NewContractRepository(sqlDB)
	roomRepo := tenancyrepo.NewRoomRepository(sqlDB)
	readingRepo := meteringrepo.NewReadingRepository(sqlDB)
	billRepo := billingrepo.NewBillRepository(sqlDB)

	auditor, err := consistency.NewAuditor(billRepo, readingRepo, roomRepo, contractRepo, log)
	if err != nil {
		return err
	}

	report := auditor.Run(ctx)
	var summary *consistency.RepairSummary
	if opts.repair && len(report.Issues) > 0 {
		uow, err := txn.NewPostgresUnitOfWork(sqlDB, sql.LevelSerializable)
		if err != nil {
			return err
		}
		manager, err := txn.NewManager(uow, log)
		if err != nil {
			return err
		}
		repairer, err := consistency.NewRepairer(billRepo, readingRepo, roomRepo, contractRepo, manager, log)
		if err != nil {
			return err
		}
		summary = repairer.Repair(ctx, report.Issues, consistency.RepairOptions{
			MaxRepairs:   opts.maxRepairs,
			SkipCritical: opts.skipCritical,
			DryRun:       opts.dryRun,
		})
	}

	if opts.exportXLSX != "" {
		data, err := export.BillRegister(ctx, billRepo)
		if err != nil {
			return fmt.Errorf("bill register: %w", err)
		}
		if err := os.WriteFile(opts.exportXLSX, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("bill register written to %s\n", opts.exportXLSX)
	}
	if opts.exportBill != "" {
		data, err := export.BillStatement(ctx, billRepo, opts.exportBill)
		if err != nil {
			return fmt.Errorf("bill statement: %w", err)
		}
		path := opts.exportPDF
		if path == "" {
			path = opts.exportBill + ".pdf"
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("bill statement written to %s\n", path)
	}

	if opts.jsonOut {
		return printJSON(report, summary)
	}
	printText(report, summary)
	if !report.Healthy() && summary == nil {
		os.Exit(1)
	}
	return nil
}

func printJSON(report *consistency.Report, summary *consistency.RepairSummary) error {
	out := struct {
		Report *consistency.Report        `json:"report"`
		Repair *consistency.RepairSummary `json:"repair,omitempty"`
	}{report, summary}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printText(report *consistency.Report, summary *consistency.RepairSummary) {
	fmt.Printf("checked: %v\n", report.Checked)
	fmt.Printf("issues: %d (duration %s)\n", len(report.Issues), report.Duration)
	for severity, count := range report.CountBySeverity() {
		fmt.Printf("  %s: %d\n", severity, count)
	}
	for _, issue := range report.Issues {
		fmt.Printf("- [%s] %s %s: %s\n", issue.Severity, issue.Type, issue.EntityID, issue.Message)
	}
	if summary != nil {
		fmt.Printf("repair: attempted=%d fixed=%d failed=%d skipped=%d (duration %s)\n",
			summary.Attempted, summary.Fixed, summary.Failed, summary.Skipped, summary.Duration)
		for _, outcome := range summary.Outcomes {
			fmt.Printf("- [%s] %s %s: %s\n", outcome.Result, outcome.Issue.Fix, outcome.Issue.EntityID, outcome.Message)
		}
	}
}
