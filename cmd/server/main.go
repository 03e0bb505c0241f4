// Package main is the chatwoot-relay entry point
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"chatwoot-relay/internal/adapters/gateway"
	"chatwoot-relay/internal/adapters/handler"
	"chatwoot-relay/internal/adapters/publisher"
	"chatwoot-relay/internal/adapters/repository"
	"chatwoot-relay/internal/adapters/websocket"
	"chatwoot-relay/internal/config"
	"chatwoot-relay/internal/core/ports"
	"chatwoot-relay/internal/core/services"
)

func main() {
	fmt.Println("=== chatwoot-relay - starting ===")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Configuration
	fmt.Println("[1/7] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Logs go to stdout and to /ws/logs subscribers
	hub := websocket.NewLogHub(cfg.App.LogStreamSecret)
	go hub.Run(ctx)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, hub), &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	})))
	fmt.Printf("✓ Config loaded (DB: %s@%s:%d, Redis: %s, Chatwoot: %s)\n",
		cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.Redis.Addr, cfg.Chatwoot.BaseURL)

	// 2. MariaDB
	// Docker containers may not be ready immediately, so we retry
	fmt.Println("[2/7] Connecting to MariaDB...")
	db := connectMariaDB(cfg.DB, 5, 2*time.Second)
	defer db.Close()
	mariadbRepo := repository.NewMariaDBRepository(db)
	if err := mariadbRepo.Migrate(ctx); err != nil {
		log.Fatalf("❌ Failed to apply schema: %v", err)
	}
	fmt.Println("✓ MariaDB connection established, schema applied")

	// 3. Redis
	fmt.Println("[3/7] Connecting to Redis...")
	rdb := connectRedis(cfg.Redis, 5, 2*time.Second)
	defer rdb.Close()
	redisRepo := repository.NewRedisRepository(rdb)
	fmt.Println("✓ Redis connection established")

	// 4. NATS (optional)
	fmt.Println("[4/7] Connecting to NATS...")
	var events ports.EventPublisher
	var natsPub *publisher.NATSPublisher
	if cfg.NATS.URL != "" {
		natsPub, err = publisher.NewNATSPublisher(publisher.NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
		})
		if err != nil {
			log.Fatalf("❌ Failed to connect to NATS: %v", err)
		}
		defer natsPub.Close()
		events = natsPub
		fmt.Printf("✓ Publishing incoming messages on %s.*\n", cfg.NATS.Subject)
	} else {
		fmt.Println("- NATS_URL not set, incoming messages are stored only")
	}

	// 5. Chatwoot gateways and core services
	fmt.Println("[5/7] Initializing services...")
	var clientOpts []gateway.ChatwootOption
	if cfg.Chatwoot.RateLimit > 0 {
		clientOpts = append(clientOpts, gateway.WithRateLimit(cfg.Chatwoot.RateLimit))
	}
	chatwoot := gateway.NewChatwootClient(
		cfg.Chatwoot.BaseURL,
		cfg.Chatwoot.AccountID,
		cfg.Chatwoot.UserAPIKey,
		cfg.Chatwoot.Timeout,
		clientOpts...,
	)
	media := gateway.NewHTTPMediaFetcher(cfg.Chatwoot.Timeout)
	shortener := gateway.NewIsGdShortener("", 0)

	dispatcher := services.NewDispatcher(
		mariadbRepo, // WebhookRepository
		mariadbRepo, // ConversationRepository
		mariadbRepo, // UserRepository
		mariadbRepo, // MessageRepository
		redisRepo,   // DedupRepository
		events,
		cfg.Redis.DedupTTL,
	)
	sender := services.NewSender(
		chatwoot,
		media,
		shortener,
		mariadbRepo,
		mariadbRepo,
		mariadbRepo,
		services.SenderConfig{
			BotToken:         cfg.Chatwoot.BotToken,
			FileLinkTemplate: cfg.App.FileLinkTemplate,
		},
	)
	actions := services.NewActions(chatwoot, mariadbRepo, mariadbRepo)
	lifecycle := services.NewLifecycle(chatwoot, mariadbRepo, services.LifecycleConfig{
		AgentBotName: cfg.Chatwoot.AgentBotName,
		WebhookURL:   cfg.App.WebhookURL(),
		InboxIDs:     cfg.Chatwoot.InboxIDs,
	})
	watchdog := services.NewWatchdog(mariadbRepo, services.WatchdogConfig{
		Interval:      cfg.Watchdog.Interval,
		DiskThreshold: cfg.Watchdog.DiskThreshold,
		Retention:     cfg.Watchdog.Retention,
		Path:          cfg.Watchdog.Path,
	})
	fmt.Println("✓ Services initialized")

	// 6. Agent bot registration
	fmt.Println("[6/7] Checking agent bot registration...")
	if cfg.App.RegisterOnStart {
		state, err := lifecycle.Register(ctx)
		if err != nil {
			log.Fatalf("❌ Failed to register agent bot: %v", err)
		}
		fmt.Printf("✓ Agent bot %d attached to inboxes %v\n", state.AgentBotID, cfg.Chatwoot.InboxIDs)
	} else {
		fmt.Println("- REGISTER_ON_START not set, use POST /api/integration/register")
	}

	go watchdog.Run(ctx)

	// 7. HTTP
	fmt.Println("[7/7] Initializing HTTP handlers...")
	checks := map[string]handler.HealthCheck{
		"mariadb": db.PingContext,
		"redis":   redisRepo.Ping,
	}
	if natsPub != nil {
		checks["nats"] = func(context.Context) error {
			if !natsPub.Connected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	routes := handler.Routes{
		Webhook:   handler.NewWebhookHandler(dispatcher, cfg.App.WebhookSecret),
		Messages:  handler.NewMessagesHandler(sender),
		Actions:   handler.NewActionsHandler(handler.ActionRegistry(actions)),
		Lifecycle: handler.NewLifecycleHandler(lifecycle),
		Dashboard: handler.NewDashboardHandler(checks, cfg.Watchdog.Path, cfg.Watchdog.DiskThreshold),
		APIKey:    cfg.App.APIKey,
	}
	if cfg.App.LogStreamSecret != "" {
		routes.LogStream = hub.ServeWS
	}

	fmt.Println("\n✅ chatwoot-relay ready")
	if err := runHTTPServer(ctx, cfg.App.Port, handler.NewRouter(routes)); err != nil {
		log.Fatalf("❌ HTTP server failed: %v", err)
	}
	fmt.Println("Shutdown complete")
}

// connectMariaDB attempts to connect to MariaDB with retry logic
// Retries are necessary because Docker containers may still be initializing
func connectMariaDB(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) *sql.DB {
	dsn := cfg.GetDSN()

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			log.Printf("  Attempt %d/%d: Failed to configure DB driver: %v", i, maxRetries, err)
			time.Sleep(retryDelay)
			continue
		}

		err = db.Ping()
		if err == nil {
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
			return db
		}

		log.Printf("  Attempt %d/%d: Cannot ping MariaDB: %v", i, maxRetries, err)
		db.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("❌ Cannot connect to MariaDB after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})

	ctx := context.Background()
	var err error

	for i := 1; i <= maxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			return rdb
		}

		log.Printf("  Attempt %d/%d: Cannot ping Redis: %v", i, maxRetries, err)

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("❌ Cannot connect to Redis after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// runHTTPServer serves until ctx is cancelled, then drains in-flight requests
func runHTTPServer(ctx context.Context, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[HTTP] Server listening on %s\n", srv.Addr)
		fmt.Printf("[HTTP] Chatwoot webhook: http://localhost:%d/webhook/chatwoot\n", port)
		fmt.Println("[READY] Press Ctrl+C to stop")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
