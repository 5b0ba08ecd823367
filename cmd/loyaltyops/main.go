/*
main.go - Loyalty operations command-line tool

PURPOSE:
  Operational companion to the API server: runs the expiration sweep,
  validates stored account totals against the ledger, and repairs
  drifted accounts, printing human-readable or JSON reports.

COMMAND-LINE FLAGS:
  -db        SQLite database path (default: backoffice.db)
  -sweep     Run the expiration sweep
  -validate  Validate accounts (all participating, or one with -customer)
  -repair    Repair drifted accounts (requires -customer)
  -customer  Customer ID to target
  -force     With -repair: rewrite totals even when consistent
  -json      Emit JSON instead of human-readable output

EXAMPLES:
  # Expire overdue points
  ./loyaltyops -db=backoffice.db -sweep

  # Portfolio-wide drift report
  ./loyaltyops -db=backoffice.db -validate

  # Diagnose and fix one account
  ./loyaltyops -db=backoffice.db -validate -customer=c-42
  ./loyaltyops -db=backoffice.db -repair -customer=c-42

SEE ALSO:
  - loyalty/validate.go: Validation and repair logic
  - api/handlers.go: Same operations over HTTP
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/movums/backoffice/loyalty"
	"github.com/movums/backoffice/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "backoffice.db", "SQLite database path")
	sweep := flag.Bool("sweep", false, "Run the expiration sweep")
	validate := flag.Bool("validate", false, "Validate accounts")
	repair := flag.Bool("repair", false, "Repair drifted accounts")
	customer := flag.String("customer", "", "Customer ID to target")
	force := flag.Bool("force", false, "Repair even when consistent")
	asJSON := flag.Bool("json", false, "Emit JSON output")
	flag.Parse()

	if !*sweep && !*validate && !*repair {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -sweep, -validate or -repair")
		flag.Usage()
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	ledger := loyalty.NewLedger(store, logger.Named("loyalty"))
	ctx := context.Background()

	switch {
	case *sweep:
		runSweep(ctx, ledger, *asJSON)
	case *repair:
		runRepair(ctx, ledger, *customer, *force, *asJSON)
	case *validate:
		runValidate(ctx, ledger, *customer, *asJSON)
	}
}

func runSweep(ctx context.Context, ledger *loyalty.Ledger, asJSON bool) {
	processed, err := ledger.SweepExpirations(ctx)
	if err != nil {
		fail("sweep failed: %v", err)
	}
	if asJSON {
		emit(map[string]any{"processed": processed})
		return
	}
	fmt.Printf("Expiration sweep complete: %d entries expired\n", processed)
}

func runValidate(ctx context.Context, ledger *loyalty.Ledger, customer string, asJSON bool) {
	if customer != "" {
		report, err := ledger.Validate(ctx, customer)
		if err != nil {
			fail("validation failed: %v", err)
		}
		if report == nil {
			fail("unknown customer %q", customer)
		}
		if asJSON {
			emit(report)
			return
		}
		printReport(*report)
		if err := report.Err(); err != nil {
			fail("%v", err)
		}
		return
	}

	portfolio, err := ledger.ValidateAll(ctx)
	if err != nil {
		fail("validation failed: %v", err)
	}
	if asJSON {
		emit(portfolio)
		return
	}
	fmt.Printf("Checked %d accounts: %d consistent, %d drifted\n",
		portfolio.Total, portfolio.Consistent, portfolio.Inconsistent)
	for _, d := range portfolio.Diffs {
		printReport(d)
	}
	if portfolio.Inconsistent > 0 {
		os.Exit(1)
	}
}

func runRepair(ctx context.Context, ledger *loyalty.Ledger, customer string, force, asJSON bool) {
	if customer == "" {
		fail("-repair requires -customer")
	}
	result, err := ledger.Repair(ctx, customer, force)
	if err != nil {
		fail("repair failed: %v", err)
	}
	if result == nil {
		fail("unknown customer %q", customer)
	}
	if asJSON {
		emit(result)
		return
	}
	if !result.Repaired {
		fmt.Printf("Account %s already consistent, nothing to repair\n", customer)
		return
	}
	fmt.Printf("Repaired account %s with %d adjustment entries\n", customer, result.EntriesWritten)
	fmt.Println("Before:")
	printReport(result.Before)
	fmt.Println("After:")
	printReport(result.After)
}

func printReport(r loyalty.ValidationReport) {
	status := "OK"
	if !r.Consistent {
		status = "DRIFT"
	}
	fmt.Printf("  %-20s %-6s accumulated stored=%s computed=%s  available stored=%s computed=%s\n",
		r.CustomerID, status,
		r.StoredAccumulated.StringFixed(2), r.ComputedAccumulated.StringFixed(2),
		r.StoredAvailable.StringFixed(2), r.ComputedAvailable.StringFixed(2))
}

func emit(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
