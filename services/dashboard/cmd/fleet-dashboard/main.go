package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetwatch/pkg/bus"
	fws3 "fleetwatch/pkg/s3"
	"fleetwatch/pkg/telemetry"
	"fleetwatch/services/dashboard"
	"fleetwatch/services/dashboard/internal/config"
	"fleetwatch/services/feed"
	"fleetwatch/services/imaging"
	"fleetwatch/services/notify"
)

func main() {
	if err := run("fleet-dashboard"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fleet := dashboard.NewFleet(cfg.Chain, cfg.Liveness.Threshold)
	buffer := feed.NewBuffer(cfg.Feed.Capacity)

	var pipeline *imaging.Pipeline
	if cfg.Imaging.Bucket != "" {
		s3Client, err := fws3.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("init s3 client: %w", err)
		}
		pipeline, err = imaging.New(s3Client, cfg.Imaging.Bucket, cfg.Imaging.URLTTL)
		if err != nil {
			return fmt.Errorf("init image pipeline: %w", err)
		}
	} else {
		logger.Printf("INFO image resolution disabled: S3_BUCKET not set")
	}

	notifier := notify.NewManager(notify.Config{
		SeverityFloor: cfg.Notify.SeverityFloor,
		DismissAfter:  cfg.Notify.DismissAfter,
		FadeWindow:    cfg.Notify.FadeWindow,
	}, nil, nil)
	defer notifier.Shutdown()

	server, err := dashboard.NewServer(fleet, buffer, pipeline, notifier, dashboard.Config{
		SigningToken:       cfg.Imaging.SigningToken,
		AgeRefreshInterval: cfg.HTTP.AgeRefreshInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("init dashboard server: %w", err)
	}
	server.Start(ctx)

	var eventBus *bus.Bus
	if cfg.Bus.URL != "" {
		eventBus, err = bus.New(cfg.Bus.URL)
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		defer eventBus.Close()
	} else {
		logger.Printf("INFO bus ingestion disabled: NATS_URL not set")
	}

	ingestor, err := feed.NewIngestor(buffer, eventBus, server.AcceptEvent)
	if err != nil {
		return fmt.Errorf("init ingestor: %w", err)
	}
	server.SetIngestor(ingestor)

	if eventBus != nil {
		if err := ingestor.Start(ctx); err != nil {
			return fmt.Errorf("subscribe live events: %w", err)
		}
		defer ingestor.Close()
	}

	if cfg.Telemetry.URL != "" {
		source, err := dashboard.NewHTTPTelemetrySource(cfg.Telemetry.URL)
		if err != nil {
			return fmt.Errorf("init telemetry source: %w", err)
		}
		poller, err := dashboard.NewPoller(fleet, source, cfg.Telemetry.Interval, logger)
		if err != nil {
			return fmt.Errorf("init poller: %w", err)
		}
		go poller.Run(ctx)
	} else {
		logger.Printf("INFO telemetry polling disabled: FW_TELEMETRY_URL not set")
	}

	routes, err := server.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s", httpServer.Addr)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
