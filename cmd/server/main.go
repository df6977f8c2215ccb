package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/sheetguard/internal/api"
	"github.com/ignite/sheetguard/internal/config"
	"github.com/ignite/sheetguard/internal/notify"
	"github.com/ignite/sheetguard/internal/storage"
	"github.com/ignite/sheetguard/internal/validation"
	"github.com/ignite/sheetguard/internal/workbook"
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	// Initialize storage
	var store storage.Store
	switch cfg.Storage.Type {
	case "aws":
		awsStore, err := storage.NewAWSStore(context.Background(),
			cfg.Storage.DynamoDBTable, cfg.Storage.S3Bucket,
			cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			log.Fatalf("Failed to initialize AWS storage: %v", err)
		}
		store = awsStore
		log.Printf("Storage: DynamoDB table %s, S3 bucket %s", cfg.Storage.DynamoDBTable, cfg.Storage.S3Bucket)
	default:
		store = storage.NewMemoryStore()
		log.Println("Storage: in-memory (no persistence across restarts)")
	}

	// Initialize email transport
	var sender notify.Sender
	if cfg.Email.Enabled {
		sesSender, err := notify.NewSESSender(cfg.Email)
		if err != nil {
			log.Fatalf("Failed to initialize SES sender: %v", err)
		}
		sender = sesSender
		log.Printf("Email: SES in %s, sender %s", cfg.Email.Region, cfg.Email.SenderAddress)
	} else {
		sender = notify.LogSender{}
		log.Println("Email: disabled, notifications are logged only")
	}

	// Optional Redis client for the reminder sweep lock
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unreachable at %s, sweep lock disabled: %v", cfg.Redis.Addr, err)
			redisClient = nil
		}
	}

	notifier := notify.NewService(store, sender, cfg.Notify, redisClient)
	ingestor := workbook.New(cfg.Ingest)
	validator := validation.NewService(ingestor, store, notifier, cfg.Notify.EmailLookupField)
	server := api.NewServer(cfg.Server, validator, notifier, store)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
