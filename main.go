package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"savingsd/pkg/aggregate"
	"savingsd/pkg/localstore"
	"savingsd/pkg/queue"
)

var jwtSecret []byte // loaded from env JWT_SECRET (fallback to dev default)

// Shared services. The single process-wide DB handle pattern from db.go is
// kept for the rest of the wiring as well.
var (
	local   *localstore.Store
	cache   *aggregate.Cache
	opQueue *queue.Queue
	syncer  *Syncer
)

func main() {
	// Auto-load ./.env if present before reading vars (missing file is fine)
	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}
	jwtSecret = []byte(secret)

	// Support a lightweight migrate command: `./savingsd migrate`
	// It runs AutoMigrate and seeding then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		initDB()
		fmt.Println("migration and seeding completed")
		return
	}

	initDB()
	initServices()

	go syncer.Run(context.Background())

	if l, err := subscribeChanges(os.Getenv("DB_DSN"), onRemoteChange); err != nil {
		log.Printf("realtime subscription disabled: %v", err)
	} else {
		defer l.Close()
	}

	r := gin.Default()

	setupRoutes(r)

	r.Run(":8081")
}

// initServices opens the local sqlite store and wires the cache, the offline
// queue and the sync engine on top of it.
func initServices() {
	path := os.Getenv("LOCAL_DB_PATH")
	if path == "" {
		path = "savingsd.db"
	}
	var err error
	local, err = localstore.Open(path)
	if err != nil {
		log.Fatalf("failed to open local store %s: %v", path, err)
	}
	cache = aggregate.NewCache(envDuration("CACHE_TTL", aggregate.DefaultTTL))
	opQueue = queue.New(local)
	syncer = newSyncer(envDuration("SYNC_INTERVAL", 15*time.Second))
}

// envDuration reads a time.Duration from the environment, falling back to def.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %s: %v", key, v, def, err)
		return def
	}
	return d
}
