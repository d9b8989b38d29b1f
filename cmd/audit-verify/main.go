package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sjperalta/custodia-api/internal/config"
	"github.com/sjperalta/custodia-api/internal/database"
	"github.com/sjperalta/custodia-api/internal/locker"
	"github.com/sjperalta/custodia-api/internal/services"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

// Verifies every audit hash chain in DATABASE_URL. Exits 1 when any chain
// is broken.
func main() {
	since := flag.Duration("since", 0, "only verify chains touched within this window (0 = all)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Setup(cfg.Environment, cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Read-only; the store timeout bounds each chain, not the whole run
	tx := services.NewTxRunner(db, locker.NewLocalLocker(), cfg.LockTimeout, cfg.StoreTimeout)
	audit := services.NewAuditService(tx)

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}

	broken, checked, err := audit.VerifySince(context.Background(), from)
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}

	for _, report := range broken {
		fmt.Printf("BROKEN %s #%d at sequence %d: %s\n", report.EntityType, report.EntityID, report.BrokenAt, report.Problem)
	}
	fmt.Printf("%d chain(s) checked, %d broken\n", checked, len(broken))
	if len(broken) > 0 {
		os.Exit(1)
	}
}
