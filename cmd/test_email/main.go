package main

import (
	"context"
	"log"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sjperalta/custodia-api/internal/config"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/services"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

// Sends a sample discrepancy notification to NOTIFY_EMAILS so the Resend
// setup can be checked without touching the database.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Setup("development", cfg.LogLevel)

	if cfg.ResendAPIKey == "" {
		log.Fatal("RESEND_API_KEY is not set")
	}
	if len(cfg.NotifyEmails) == 0 {
		log.Fatal("NOTIFY_EMAILS is not set")
	}

	emailService := services.NewEmailService(cfg)

	event := services.Event{
		Type:       services.EventDiscrepancyOpened,
		EntityType: models.EntityDiscrepancy,
		EntityID:   1,
		AssetID:    1,
		Actor:      services.SystemActor.ID,
		Detail:     "test notification: location expected Warehouse-2, observed Warehouse-3",
		At:         time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Printf("Sending test event email to %v...", cfg.NotifyEmails)
	if err := emailService.Deliver(ctx, event); err != nil {
		log.Fatalf("Failed to send test email: %v", err)
	}
	log.Println("Test email sent")
}
