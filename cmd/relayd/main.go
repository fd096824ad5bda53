package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaydesk/internal/config"
	"relaydesk/internal/greeting"
	"relaydesk/internal/relay"
	"relaydesk/internal/store"
	"relaydesk/internal/transport"

	"github.com/joho/godotenv"
)

const defaultGreeting = "Hello! Write your question here and the support team will get back to you."

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: could not load .env: %v", err)
	}

	cfg := config.Load()
	ctx := context.Background()

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		log.Fatalf("settings failed: %v", err)
	}
	cfg.Settings = settings

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir)); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	client := transport.NewClient(cfg.BotAPIURL, cfg.BotToken)

	var service *relay.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for greeting storage")
		greetingStore, err := greeting.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer greetingStore.Close()
		if err := greetingStore.EnsureGreeting(ctx, defaultGreeting); err != nil {
			log.Printf("WARNING: greeting seed error (will retry on next restart): %v", err)
		}
		service = relay.NewWithGreetingStore(cfg, dataStore, greetingStore, client)
	} else {
		log.Printf("Using PostgreSQL for greeting storage")
		if err := dataStore.EnsureGreeting(ctx, defaultGreeting); err != nil {
			log.Printf("WARNING: greeting seed error (will retry on next restart): %v", err)
		}
		service = relay.New(cfg, dataStore, client)
	}

	httpServer := relay.NewHTTPServer(service, client)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Relaydesk listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
