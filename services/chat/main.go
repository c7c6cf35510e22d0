package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/carechat/internal/auth"
	"github.com/carechat/internal/config"
	"github.com/carechat/internal/events"
	"github.com/carechat/internal/handler"
	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/metrics"
	"github.com/carechat/internal/middleware"
	"github.com/carechat/internal/repository"
	"github.com/carechat/internal/service"
	"github.com/carechat/internal/startup"
	"github.com/carechat/internal/storage"
	"github.com/carechat/internal/storage/memory"
	"github.com/carechat/internal/ws"
)

func main() {
	logger.SetPrefix("chat")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and seeded users (no external DB required)")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()
	logger.Info("starting chat service")

	ctx := context.Background()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := startup.NewPoolConfig(cfg.DatabaseURL(), cfg.DBMaxConnections())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second)
	if err != nil {
		logger.Errorf("database: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := startup.RunMigrations(ctx, pool); err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	userRepo := repository.NewUserRepository(pool)
	if *dev {
		seedDevUsers(ctx, userRepo, cfg)
	}

	var store storage.Store
	if cfg.Redis.URL != "" {
		rc, err := startup.ConnectRedisWithRetry(ctx, cfg.Redis.URL, 30*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		store = rc
		logger.Info("redis connected")
	} else {
		store = memory.New()
		logger.Info("REDIS_URL not set, presence and rate limits kept in memory")
	}
	defer store.Close()

	var pub events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Infof("publishing chat events to kafka topic %s", cfg.Kafka.Topic)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Errorf("event publisher close: %v", err)
		}
	}()

	chatSvc := service.NewChatService(repository.NewTxManager(pool), service.Stores{
		Chats:        repository.NewChatRepository(pool),
		Participants: repository.NewParticipantRepository(pool),
		Messages:     repository.NewMessageRepository(pool),
		Views:        repository.NewViewRepository(pool),
		Users:        userRepo,
	}, pub)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(chatSvc, store, ws.HubOptions{
		MaxConnections:  cfg.MaxWSConnections,
		SessionsPerUser: cfg.MaxSessionsPerUser,
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	chatH := handler.NewChatHandler(chatSvc, hub)
	userH := handler.NewUserHandler(store)
	wsH := handler.NewWSHandler(hub, ws.ClientOptions{
		SendBuffer:     cfg.WSSendBufferSize,
		WriteTimeout:   cfg.WSWriteTimeout,
		PongTimeout:    cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
	}, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: сжимающий ResponseWriter не реализует http.Hijacker.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health)
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(auth.NewVerifier(cfg.JWT.AccessSecret, cfg.JWT.Issuer)))
		r.Use(middleware.RateLimitAPI(store, cfg.RateLimitPerMinute))
		r.Get("/api/chats", chatH.ListChats)
		r.Get("/api/chats/{chatId}/messages", chatH.ListMessages)
		r.Post("/api/chats/{chatId}/seen", chatH.MarkSeen)
		r.Get("/api/users/{id}/presence", userH.GetPresence)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
}

// splitOrigins разбирает CORS_ALLOWED_ORIGINS: список через запятую.
func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
