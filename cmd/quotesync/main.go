package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/tyredesk/quotesync/internal/httpapi"
	"github.com/tyredesk/quotesync/internal/quote"
)

func main() {
	_ = godotenv.Load()

	addr := os.Getenv("QUOTESYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	sheetURL := strings.TrimSpace(os.Getenv("QUOTESYNC_SHEET_URL"))
	if sheetURL == "" {
		log.Fatal("QUOTESYNC_SHEET_URL is required")
	}

	kv, err := buildKVStoreFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	defer func() { _ = kv.Close() }()

	client, err := quote.NewSheetClient(quote.SheetClientOptions{
		EndpointURL: sheetURL,
		Logger:      log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to build sheet client: %v", err)
	}

	orch := quote.NewOrchestrator(quote.OrchestratorOptions{
		Remote:         client,
		KV:             kv,
		Logger:         log.Default(),
		DeleteCooldown: durationEnv("QUOTESYNC_DELETE_COOLDOWN", 8*time.Second),
	})
	defer orch.Close()

	if err := orch.Refresh(context.Background()); err != nil {
		log.Printf("initial sync failed: %v; serving cached quotes", err)
	}

	scheduler := cron.New()
	interval := durationEnv("QUOTESYNC_REFRESH_INTERVAL", 90*time.Second)
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		orch.BackgroundRefresh(context.Background())
	}); err != nil {
		log.Fatalf("failed to schedule background refresh: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if restoreDir := strings.TrimSpace(os.Getenv("QUOTESYNC_RESTORE_DIR")); restoreDir != "" {
		watcher, err := quote.NewRestoreWatcher(restoreDir, orch, log.Default())
		if err != nil {
			log.Fatalf("failed to build restore watcher: %v", err)
		}
		go func() {
			if err := watcher.Run(context.Background()); err != nil && err != context.Canceled {
				log.Printf("restore watcher stopped: %v", err)
			}
		}()
	}

	server := httpapi.NewServer(orch, httpapi.ServerConfig{
		Passcode:      os.Getenv("QUOTESYNC_PASSCODE"),
		SessionSecret: os.Getenv("QUOTESYNC_SESSION_SECRET"),
		SessionTTL:    durationEnv("QUOTESYNC_SESSION_TTL", 12*time.Hour),
		MaxBodyBytes:  0,
	}, log.Default())

	log.Printf("quotesync listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildKVStoreFromEnv() (quote.KVStore, error) {
	profileDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(os.Getenv("QUOTESYNC_STATE_DSN"))
	if dsn == "" {
		dsn = profileDSN
	}
	if dsn == "" {
		dataDir := dataDirFromEnv()
		dsn = "file://" + filepath.Join(dataDir, "state.json")
	}
	return quote.BuildKVStoreFromDSN(dsn)
}

func storageProfileDefaultsFromEnv() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("QUOTESYNC_BACKEND_PROFILE")))
	switch profile {
	case "", "custom":
		return "", nil
	case "memory", "inmemory":
		return "memory://", nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDirFromEnv(), "state.json"), nil
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("QUOTESYNC_POSTGRES_DSN"))
		if dsn == "" {
			return "", fmt.Errorf("QUOTESYNC_POSTGRES_DSN is required when QUOTESYNC_BACKEND_PROFILE=%s", profile)
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported QUOTESYNC_BACKEND_PROFILE: %s", profile)
	}
}

func dataDirFromEnv() string {
	dataDir := strings.TrimSpace(os.Getenv("QUOTESYNC_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".quotesync"
	}
	return dataDir
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
