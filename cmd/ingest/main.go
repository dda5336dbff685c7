package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/autocrawlerHQ/chatwalk/internal/config"
	"github.com/autocrawlerHQ/chatwalk/internal/db"
	"github.com/autocrawlerHQ/chatwalk/internal/router"
)

// @title           Chatwalk Ingest API
// @version         1.0
// @description     Receives the event stream a chat walkthrough emits and serves it back for inspection.

// @host      localhost:8000
// @BasePath  /

func main() {
	cfg := config.Load()
	log.Printf("Starting chatwalk ingest server on port %d", cfg.Port)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	sqlDB, err := database.DB.DB()
	if err != nil {
		log.Fatalf("getting underlying sql.DB: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("db ping failed: %v", err)
	}
	log.Println("Database connection established")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	r := router.New(database)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: r,
	}

	go func() {
		log.Printf("Ingest listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()

	log.Printf("Graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	log.Println("Server exited")
}
