// Агент синхронизации чата: опрос REST-бэкенда для одного пользователя,
// локальный HTTP API и WebSocket со снимками состояния для UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/chatsync"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/push"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/ws"
)

func main() {
	logger.SetPrefix("chatsync")
	dev := flag.Bool("dev", false, "store room history in embedded PostgreSQL (no external DB required)")
	user := flag.String("user", "", "chat user (overrides CHAT_USERNAME)")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *user != "" {
		cfg.Username = strings.TrimSpace(*user)
	}
	logger.Infof("starting chat sync: user=%q api=%s", cfg.Username, cfg.APIBaseURL)

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

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	history, err := startup.OpenHistoryStore(rootCtx, cfg, 60*time.Second)
	if err != nil {
		logger.Errorf("history store (%s): %v", cfg.Storage.Driver, err)
		os.Exit(1)
	}
	defer history.Close()

	var notifier *push.Notifier
	var engineNotifier chatsync.Notifier
	if cfg.Push.Enabled {
		keys, err := push.EnsureVAPIDKeys(cfg.Push.VAPIDKeysFile)
		if err != nil {
			logger.Errorf("VAPID: %v (push-уведомления отключены)", err)
		}
		notifier = push.NewNotifier(keys, cfg.Push.Subscriber)
		engineNotifier = notifier
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.Username, cfg.RequestTimeout)
	engine := chatsync.NewEngine(client, chatsync.Options{
		Username:          cfg.Username,
		Location:          cfg.Location(),
		DiscoverShotRooms: cfg.DiscoverShotRooms,
		RequestTimeout:    cfg.RequestTimeout,
		History:           history,
		Notifier:          engineNotifier,
	})

	hubCtx, hubCancel := context.WithCancel(rootCtx)
	hub := ws.NewHub(engine, cfg.MaxWSConnections)
	engine.AddListener(hub)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	poller := chatsync.NewPoller(engine, cfg.PollInterval, cfg.TickTimeout)
	if engine.PollingEnabled() {
		loadCtx, loadCancel := context.WithTimeout(rootCtx, cfg.TickTimeout)
		if err := engine.LoadRooms(loadCtx); err != nil {
			// Опрос всё равно запускается: список придёт со следующим успешным шагом.
			logger.Errorf("initial room load: %v", err)
		}
		loadCancel()
		poller.Start(rootCtx)
	} else {
		logger.Infof("user %q: polling disabled", cfg.Username)
	}

	r := newRouter(cfg, engine, hub, notifier)
	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
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
			os.Exit(1)
		}
	}

	poller.Stop()
	logger.Info("poller stopped")

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
	engine.Wait()
	logger.Info("server goroutine exited")
}

func newRouter(cfg *config.Config, engine *chatsync.Engine, hub *ws.Hub, notifier *push.Notifier) http.Handler {
	chatH := handler.NewChatHandler(engine)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	pushH := handler.NewPushHandler(notifier)
	configH := handler.NewConfigHandler(cfg)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if logger.DebugEnabled() {
		r.Use(chimw.Logger)
	}
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/ws", wsH.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", chatH.GetState)
		r.Get("/config", configH.GetSyncConfig)
		r.Get("/rooms", chatH.GetRooms)
		r.Post("/rooms/reload", chatH.ReloadRooms)
		r.Post("/rooms/close", chatH.CloseRoom)
		r.Post("/rooms/{id}/open", chatH.OpenRoom)
		r.Post("/projects/{id}/chat/open", chatH.OpenProjectRoom)
		r.Post("/shots/{id}/chat/open", chatH.OpenShotRoom)
		r.Post("/personal/{partner}/open", chatH.OpenPersonalRoom)
		r.Get("/messages", chatH.GetMessages)
		r.Post("/messages", chatH.SendMessage)
		r.Get("/history", chatH.GetHistory)
		r.Get("/config/push", pushH.GetPushConfig)
		r.Post("/push/subscribe", pushH.Subscribe)
		r.Delete("/push/subscribe", pushH.Unsubscribe)
	})
	return r
}

// startEmbeddedPostgres поднимает локальный Postgres и переключает историю на него.
func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "chatsync"
		password = "chatsync_secret"
		database = "chatsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "chatsync-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Storage.Driver = config.StoragePostgres
	cfg.Storage.DatabaseURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
