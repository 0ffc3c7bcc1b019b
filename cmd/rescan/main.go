// cmd/rescan is the admin CLI tool that resets the Usage Ledger to zero
// and replays register(a, +1) over every Activity in ascending id
// order, per spec's rescan_all().
package main

import (
	"context"
	"log"
	"os"
	"time"

	"tendabike.dev/engine/internal/config"
	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/tberr"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/store/postgres"
)

const (
	exitSuccess     = 0
	exitOther       = 1
	exitConfigError = 2
	exitTransient   = 3
	exitAuthFailure = 4
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Println("rescan: DATABASE_URL is required")
		os.Exit(exitConfigError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("rescan: could not open postgres pool: %v", err)
		os.Exit(exitConfigError)
	}
	defer pool.Close()

	registrar := &activity.Registrar{
		Store:       &postgres.ActivityStore{Pool: pool},
		Parts:       &postgres.PartStore{Pool: pool},
		Attachments: &postgres.AttachmentStore{Pool: pool},
		Services:    &postgres.MaintenanceStore{Pool: pool},
		Catalog:     types.Default(),
	}
	usageStore := &postgres.UsageStore{Pool: pool}

	if err := registrar.RescanAll(ctx, usageStore); err != nil {
		log.Printf("rescan: failed: %v", err)
		os.Exit(exitCodeFor(err))
	}

	log.Println("rescan: usage ledger rebuilt")
	os.Exit(exitSuccess)
}

func exitCodeFor(err error) int {
	switch {
	case tberr.Is(err, tberr.KindNotAuth):
		return exitAuthFailure
	case tberr.Is(err, tberr.KindTryAgain):
		return exitTransient
	default:
		return exitOther
	}
}
