// Command pedidosd is the headless orders and chat client. It keeps the
// session, order view, open rooms and unread badge in process and serves
// them to a local UI over a JSON API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-pedidos-client/internal/config"
	httpapi "github.com/tbourn/go-pedidos-client/internal/http"
	"github.com/tbourn/go-pedidos-client/internal/observability"
	"github.com/tbourn/go-pedidos-client/internal/repo"
	"github.com/tbourn/go-pedidos-client/internal/services"
	"github.com/tbourn/go-pedidos-client/internal/sysutil"
	"github.com/tbourn/go-pedidos-client/internal/transport"
)

var version = "dev"

func main() {
	if err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		log.Fatal().Err(err).Msg("load env files")
	}
	cfg := config.MustLoad()
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	// Client state
	db, err := repo.OpenSQLite(cfg.StateDBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StateDBPath).Msg("open state db")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate state db")
	}
	store := repo.NewSessionStore(db)

	// Transport
	client := transport.NewClient(cfg.Backend, store)
	socket := transport.NewSocket(transport.SocketOptionsFrom(cfg.Backend, cfg.Realtime, store))
	stopRealtime := startRealtime(socket)

	// Services
	feed := services.NewFeed(50)
	auth := services.NewAuthService(client, store, feed)
	orders := services.NewOrderService(client, store, feed, cfg.ToastDuration)
	notifications := services.NewNotificationService(client, store, cfg.Polling.BadgeInterval)
	rooms := services.NewRooms(services.ChatDeps{
		Backend:           client,
		Realtime:          socket,
		Sessions:          store,
		Notifier:          notifications,
		Presenter:         feed,
		Attachments:       services.NewAttachmentService(client, feed, cfg.ToastDuration),
		ReconcileInterval: cfg.Polling.ReconcileInterval,
	}, orders)

	go notifications.Run(ctx)
	go purgeReceipts(ctx, db, time.Hour)

	// Local API
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:            db,
		Sessions:      store,
		Auth:          auth,
		Orders:        orders,
		Rooms:         rooms,
		Notifications: notifications,
		Notices:       feed,
	}, cfg)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("version", version).Msg("pedidosd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	stopRealtime(shutdownCtx, rooms)
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("stopped")
}

// roomCloser is the part of the room registry shutdown needs.
type roomCloser interface {
	CloseAll(ctx context.Context)
}

// startRealtime runs the socket on its own context so a shutdown signal
// does not cut it before the open rooms have left. The returned func closes
// the rooms, waits for their leave frames to be written and then stops the
// socket.
func startRealtime(socket *transport.Socket) func(ctx context.Context, rooms roomCloser) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := socket.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("realtime channel stopped")
		}
	}()

	return func(ctx context.Context, rooms roomCloser) {
		rooms.CloseAll(ctx)
		if err := socket.Flush(ctx); err != nil {
			log.Warn().Err(err).Msg("realtime frames left unsent")
		}
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
}

// purgeReceipts drops expired send receipts every interval.
func purgeReceipts(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpiredReceipts(ctx, db, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge receipts")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired receipts removed")
			}
		}
	}
}
