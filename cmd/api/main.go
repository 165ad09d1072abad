package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/go-storefront/internal/audit"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/email"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/httpx"
	"github.com/safar/go-storefront/internal/payment"
	"github.com/safar/go-storefront/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, "storefront-api", 1024)
	producer.Start(ctx)

	var sender email.Sender = email.LogSender{}
	if cfg.Email.Enabled {
		sender = email.NewSMTPSender(cfg.Email.SMTPAddr, cfg.Email.From)
	}

	handler := &httpx.Handler{
		DB:      db,
		Redis:   rdb,
		Gateway: payment.NewGateway(&cfg.Payment),
		Audit:   audit.NewSink(db),
		Emails:  sender,
		Events:  producer,
	}

	router := httpx.NewRouter(httpx.MaintenanceGuard(rdb))
	handler.Register(router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	producer.Close()
	cancel()
	producer.WaitClosed()
}
