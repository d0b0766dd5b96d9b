package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rentalhub/internal/adapter/api"
	"rentalhub/internal/adapter/api/handler"
	apimiddleware "rentalhub/internal/adapter/api/middleware"
	"rentalhub/internal/adapter/api/router"
	"rentalhub/internal/adapter/repository"
	domainrepo "rentalhub/internal/domain/repository"
	"rentalhub/internal/infrastructure/firebase"
	"rentalhub/internal/infrastructure/metrics"
	"rentalhub/internal/infrastructure/ratelimit"
	"rentalhub/internal/infrastructure/storage"
	"rentalhub/internal/infrastructure/websocket"
	"rentalhub/internal/usecase"
	"rentalhub/pkg/config"
	"rentalhub/pkg/logger"
)

// identity is what the server needs from the identity provider.
type identity interface {
	firebase.TokenVerifier
	handler.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Environment, cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		remote  domainrepo.ChatRepository
		feed    domainrepo.MessageFeed
		records domainrepo.AttachmentRepository
		auth    identity
		blobs   usecase.BlobStore
		devAuth *handler.DevTokenHandler
	)

	switch cfg.RemoteBackend {
	case config.BackendFirestore:
		clients, err := firebase.NewClients(ctx, cfg)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase: %v", err)
		}
		defer clients.Close()

		authClient, err := clients.Auth(ctx)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase Auth: %v", err)
		}
		auth = authClient
		remote = repository.NewFirestoreChatRepository(clients.Firestore)
		feed = repository.NewFirestoreMessageFeed(clients.Firestore)
		records = repository.NewFirestoreAttachmentRepository(clients.Firestore)

		if cfg.StorageBucket != "" {
			storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, clients.Options...)
			if err != nil {
				logger.Fatal("Failed to initialize Cloud Storage: %v", err)
			}
			defer storageClient.Close()
			blobs = storageClient
		}

	case config.BackendMemory:
		if cfg.Environment == "production" {
			logger.Fatal("The memory backend cannot run in production")
		}
		logger.Warn("Using the in-memory backend with dev tokens; data is lost on restart")
		memory := repository.NewMemoryChatRepository()
		remote, feed = memory, memory
		records = repository.NewMemoryAttachmentRepository()
		auth = firebase.DevTokenVerifier{}
		devAuth = handler.NewDevTokenHandler(firebase.DevTokenVerifier{}.GenerateToken)
	}

	var cache domainrepo.ChatCache
	if cfg.ChatCacheDir != "" {
		if err := os.MkdirAll(cfg.ChatCacheDir, 0o755); err != nil {
			logger.Fatal("Failed to create chat cache dir: %v", err)
		}
		sqliteCache, err := repository.NewSQLiteChatCache(filepath.Join(cfg.ChatCacheDir, "chat_cache.db"))
		if err != nil {
			logger.Fatal("Failed to open chat cache: %v", err)
		}
		defer sqliteCache.Close()
		cache = sqliteCache
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)

	actionLimiter := ratelimit.NewRateLimiter()
	actionLimiter.StartCleanupRoutine(ctx)
	requestLimiter := ratelimit.NewRateLimiter()
	requestLimiter.StartCleanupRoutine(ctx)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	chatUseCase := usecase.NewChatUseCase(
		remote,
		feed,
		cache,
		wsManager,
		actionLimiter,
		recorder,
		usecase.WithOptimisticSend(cfg.OptimisticSend),
		usecase.WithReconnectBackoff(cfg.FeedReconnectInitial, cfg.FeedReconnectMax),
	)
	wsManager.SetActions(chatUseCase)
	wsManager.OnLastDisconnect(chatUseCase.Disconnect)

	attachmentUseCase := usecase.NewAttachmentUseCase(chatUseCase, blobs, records)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(apimiddleware.RateLimit(requestLimiter))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(auth)

	router.Setup(e, handler.Handlers{
		Chat:       handler.NewChatHandler(chatUseCase),
		Attachment: handler.NewAttachmentHandler(attachmentUseCase),
		WebSocket:  handler.NewWebSocketHandler(wsManager, chatUseCase, cfg.AllowedWebsocketOrigin),
		Health:     handler.NewHealthHandler(auth, chatUseCase.ActiveSessions),
		DevToken:   devAuth,
	}, authMiddleware, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("Starting server on port %s (%s backend)...", cfg.ServerPort, cfg.RemoteBackend)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
	chatUseCase.Shutdown()
}
