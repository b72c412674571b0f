package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campuscrush/realtime/internal/archive"
	"github.com/campuscrush/realtime/internal/auth"
	"github.com/campuscrush/realtime/internal/config"
	"github.com/campuscrush/realtime/internal/core"
	"github.com/campuscrush/realtime/internal/events"
	"github.com/campuscrush/realtime/internal/ratelimit"
	"github.com/campuscrush/realtime/internal/store"
	"github.com/campuscrush/realtime/internal/store/redisstore"
	"github.com/campuscrush/realtime/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- State store ---
	var (
		st  store.Store
		rdb *redis.Client
	)
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err = redisstore.Connect(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		st = redisstore.New(rdb)
	default:
		st = store.NewMemory()
	}

	// --- Archive ---
	var (
		messages archive.MessageLog
		notices  archive.NotificationLog
	)
	if cfg.DatabaseURL != "" {
		pg, err := archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		defer pg.Close()
		messages, notices = pg, pg
	} else {
		mem := archive.NewMemory()
		messages, notices = mem, mem
	}

	// --- Events ---
	var pub events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		if _, err := nc.Subscribe("crush.>", func(e events.Event) {
			log.Printf("[events] %s chat=%s match=%s users=%v", e.Subject, e.ChatID, e.MatchID, e.Users)
		}); err != nil {
			log.Printf("[events] audit subscription failed: %v", err)
		}
		pub = nc
	}

	c := core.New(core.Deps{
		Store:    st,
		Messages: messages,
		Notices:  notices,
		Events:   pub,
		Pool:     cfg.Pool,
	})

	server := ws.NewServer(cfg.Server, authn, c.Hub, c.Chat)
	if rdb != nil && cfg.ConnectRateLimit > 0 {
		server.SetLimiter(ratelimit.NewLimiter(rdb, ratelimit.ConnectRule(cfg.ConnectRateLimit)))
	}

	log.Printf("crushd starting")
	log.Printf("  listen_addr:     %s", cfg.Server.ListenAddr)
	log.Printf("  max_connections: %d", cfg.Server.MaxConnections)
	log.Printf("  store_backend:   %s", cfg.StoreBackend)
	log.Printf("  archive:         %s", archiveName(cfg.DatabaseURL))
	log.Printf("  nats_url:        %s", cfg.NATS.URL)

	go c.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("server error: %v", err)
		}
	case <-ctx.Done():
		log.Printf("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
		os.Exit(1)
	}
}

func archiveName(databaseURL string) string {
	if databaseURL == "" {
		return "memory"
	}
	return "postgres"
}
