package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/2223010198-web/MonicGpio/internal/alerting"
	"github.com/2223010198-web/MonicGpio/internal/anomaly"
	"github.com/2223010198-web/MonicGpio/internal/api"
	"github.com/2223010198-web/MonicGpio/internal/auth"
	"github.com/2223010198-web/MonicGpio/internal/config"
	"github.com/2223010198-web/MonicGpio/internal/ingest"
	"github.com/2223010198-web/MonicGpio/internal/monitor"
	"github.com/2223010198-web/MonicGpio/internal/storage"
	"github.com/2223010198-web/MonicGpio/internal/telemetry"
	"github.com/2223010198-web/MonicGpio/internal/websocket"
)

func runServe(configDir string) error {
	// --- Configuration ---
	if err := config.LoadConfig(configDir); err != nil {
		return err
	}
	cfg := &config.AppConfig

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize Components ---
	detector := anomaly.NewDetector(
		anomaly.Options{Window: cfg.Anomaly.Window, MinSamples: cfg.Anomaly.MinSamples},
		anomaly.NewForestModel(cfg.Anomaly.Trees, cfg.Anomaly.Subsample, cfg.Anomaly.Contamination),
	)
	store := telemetry.Default(telemetry.Options{
		HistoryCapacity:     cfg.History.Capacity,
		TimelineCapacity:    cfg.Timeline.Capacity,
		GunshotCapacity:     cfg.Alerts.Capacity,
		DisconnectThreshold: cfg.Monitor.DisconnectThreshold,
		RepeatCooldown:      cfg.Timeline.RepeatCooldown,
		DedupeGunshots:      cfg.Alerts.Dedupe,
		Detector:            detector,
	})
	defer store.Close()
	hub := websocket.NewHub()

	var alertOpts []alerting.Option
	var eventArchive api.EventArchive
	if cfg.Archive.Path != "" {
		archive, err := storage.OpenArchive(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer archive.Close()
		alertOpts = append(alertOpts, alerting.WithArchive(archive))
		eventArchive = archive

		retention, err := storage.NewRetention(archive, cfg.Archive.Retention, cfg.Archive.SweepSchedule)
		if err != nil {
			return err
		}
		retention.Start()
		defer retention.Stop()
		log.Printf("Archiving events to %s (retention %s)", cfg.Archive.Path, cfg.Archive.Retention)
	}

	if cfg.NATS.URL != "" {
		publisher, err := alerting.NewNATSPublisher(alerting.NATSConfig{
			URL:            cfg.NATS.URL,
			Subject:        cfg.NATS.Subject,
			Name:           "forest-monitor",
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Printf("NATS export disabled: %v", err)
		} else {
			defer publisher.Close()
			alertOpts = append(alertOpts, alerting.WithPublisher(publisher))
			log.Printf("Exporting events to NATS subject %s.*", cfg.NATS.Subject)
		}
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = uuid.NewString()
		log.Println("Warning: auth.jwt_secret is empty, tokens will not survive a restart")
	}

	alerter := alerting.NewAlerter(hub, alertOpts...)
	gateway := ingest.NewGateway(mqttConfig(cfg), store, alerter)
	mon := monitor.New(store, hub, alerter, cfg.Monitor.RefreshInterval)
	apiHandler := api.NewAPIHandler(store, gateway, hub, auth.NewAuthManager(cfg.Auth), eventArchive)

	// --- Start background loops ---
	go hub.Run(ctx)
	go mon.Run(ctx)
	gatewayDone := make(chan struct{})
	go func() {
		defer close(gatewayDone)
		if err := gateway.Run(ctx); err != nil {
			log.Printf("MQTT gateway stopped: %v", err)
		}
	}()

	// --- Setup HTTP Servers ---
	dataServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.DataPort),
		Handler: api.SetupDataRouter(apiHandler),
	}
	uiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.UIPort),
		Handler: api.SetupUIRouter(apiHandler),
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("Starting Data Ingestion Server on port %d", cfg.Server.DataPort)
		if err := dataServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("data server: %w", err)
		}
	}()
	go func() {
		log.Printf("Starting Dashboard API & WebSocket Server on port %d", cfg.Server.UIPort)
		if err := uiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ui server: %w", err)
		}
	}()

	// --- Graceful Shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}
	log.Println("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{dataServer, uiServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}

	<-gatewayDone
	log.Println("Servers gracefully stopped.")
	return runErr
}
