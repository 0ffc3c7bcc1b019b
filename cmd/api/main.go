package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tendabike.dev/engine/internal/api"
	"tendabike.dev/engine/internal/auth"
	"tendabike.dev/engine/internal/config"
	"tendabike.dev/engine/internal/domain/activity"
	"tendabike.dev/engine/internal/domain/attachment"
	"tendabike.dev/engine/internal/domain/events"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/outbox"
	"tendabike.dev/engine/internal/store/postgres"
	"tendabike.dev/engine/internal/strava"
	httptransport "tendabike.dev/engine/internal/transport/http"
)

// stravaTypeMap translates Strava's wire activity type strings to the
// engine's own ActivityTypeID catalog, per spec §6.
var stravaTypeMap = strava.TypeMap{
	"Ride":             types.ActRide,
	"MountainBikeRide": types.ActMountainBike,
	"Commute":          types.ActCommute,
	"AlpineSki":        types.ActAlpineSki,
	"NordicSki":        types.ActNordicSki,
}

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	catalog := types.Default()

	activities := &postgres.ActivityStore{Pool: pool}
	attachments := &postgres.AttachmentStore{Pool: pool}
	eventsStore := &postgres.EventStore{Pool: pool}
	maintenanceStore := &postgres.MaintenanceStore{Pool: pool}
	parts := &postgres.PartStore{Pool: pool}
	stravaStore := &postgres.StravaStore{
		Pool:         pool,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}

	registrar := &activity.Registrar{
		Store:       activities,
		Parts:       parts,
		Attachments: attachments,
		Services:    maintenanceStore,
		Catalog:     catalog,
	}
	attachEngine := &attachment.Engine{
		Store:   attachments,
		Parts:   parts,
		Catalog: catalog,
	}
	stravaClient := &strava.Client{
		Tokens: stravaStore,
		Types:  stravaTypeMap,
	}
	dispatcher := &events.Dispatcher{
		Store:     eventsStore,
		Provider:  stravaClient,
		Registrar: registrar,
	}

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	outboxDispatcher := outbox.NewDispatcher(pool.DB, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go outboxDispatcher.Start(ctx)

	recorder := outbox.NewRecorder(pool.DB)

	handler := api.NewHandler(registrar, attachEngine, attachments, parts, maintenanceStore, dispatcher, cfg.StravaVerifyToken)
	handler.SetOutbox(recorder)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.SessionSecret, Issuer: cfg.SessionIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("tendabike engine listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	outboxDispatcher.Wait()
}
