package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Abraxas-365/convo/pkg/config"
	"github.com/Abraxas-365/convo/pkg/database"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg)

	log.Println("🚀 Starting convo dialog server...")
	log.Printf("📍 Environment: %s | state: %s | flows: %s",
		cfg.Server.Environment, cfg.Dialog.StateBackend, cfg.FlowSource.Kind)

	db, redisClient, err := connect(cfg)
	if err != nil {
		return err
	}

	container, err := NewContainer(cfg, db, redisClient)
	if err != nil {
		database.CloseDB(db)
		database.CloseRedis(redisClient)
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Cleanup()

	for name, ok := range container.HealthCheck() {
		if !ok {
			log.Printf("⚠️  %s is not healthy at startup", name)
		}
	}

	if container.Scheduler != nil {
		container.Scheduler.Start()
	}

	app := newApp(container)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		log.Printf("👂 Listening on %s", addr)
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Println("⏸️  Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("❌ Error during server shutdown: %v", err)
	}

	log.Println("👋 Server stopped gracefully")
	return nil
}

// connect abre Postgres solo cuando el estado o los flujos viven ahí.
// Redis siempre se usa para los locks de conversación.
func connect(cfg *config.Config) (*sqlx.DB, *redis.Client, error) {
	var db *sqlx.DB
	if cfg.Dialog.StateBackend == config.StateBackendPostgres || cfg.FlowSource.Kind == config.FlowSourcePostgres {
		log.Println("🔌 Connecting to PostgreSQL...")
		var err error
		if db, err = database.NewPostgresDB(cfg.Database); err != nil {
			return nil, nil, err
		}
	}

	log.Println("🔌 Connecting to Redis...")
	redisClient, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		database.CloseDB(db)
		return nil, nil, err
	}
	return db, redisClient, nil
}

func setupLogger(cfg *config.Config) {
	if cfg.Server.Environment == "production" {
		log.SetFlags(log.LstdFlags)
		return
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
