// Package httpapi wires the local view API (Gin) to the client services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → session → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Loopback-friendly CORS and strict security headers for a local UI
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-pedidos-client/internal/config"
	"github.com/tbourn/go-pedidos-client/internal/domain"
	"github.com/tbourn/go-pedidos-client/internal/http/handlers"
	"github.com/tbourn/go-pedidos-client/internal/http/middleware"
	"github.com/tbourn/go-pedidos-client/internal/repo"
	"github.com/tbourn/go-pedidos-client/internal/services"
)

// Deps are the long-lived objects the routes are served from.
type Deps struct {
	DB            *gorm.DB
	Sessions      services.SessionProvider
	Auth          *services.AuthService
	Orders        *services.OrderService
	Rooms         *services.Rooms
	Notifications *services.NotificationService
	Notices       *services.Feed
}

// receiptShim adapts the repository free functions to handlers.ReceiptStore.
// This keeps handlers decoupled from the concrete repo package while reusing
// existing functions.
type receiptShim struct{ db *gorm.DB }

// Get proxies repo.GetReceipt.
func (s receiptShim) Get(ctx context.Context, userID, roomID, key string, now time.Time) (*domain.SendReceipt, error) {
	return repo.GetReceipt(ctx, s.db, userID, roomID, key, now)
}

// Create proxies repo.CreateReceipt.
func (s receiptShim) Create(ctx context.Context, msg domain.ChatMessage, userID, key string, status int, ttl time.Duration) error {
	_, err := repo.CreateReceipt(ctx, s.db, msg, userID, key, status, ttl)
	return err
}

// roomsShim adapts *services.Rooms, which returns concrete sessions, to
// handlers.RoomRegistry.
type roomsShim struct{ rooms *services.Rooms }

// Open proxies Rooms.Open.
func (s roomsShim) Open(ctx context.Context, roomID, orderID string) (handlers.Room, error) {
	cs, err := s.rooms.Open(ctx, roomID, orderID)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// Get proxies Rooms.Get.
func (s roomsShim) Get(roomID string) (handlers.Room, error) {
	cs, err := s.rooms.Get(roomID)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// Close proxies Rooms.Close.
func (s roomsShim) Close(ctx context.Context, roomID string) error { return s.rooms.Close(ctx, roomID) }

// CloseAll proxies Rooms.CloseAll.
func (s roomsShim) CloseAll(ctx context.Context) { s.rooms.CloseAll(ctx) }

// sessionUser returns the logged-in user id for the Session middleware.
func sessionUser(p services.SessionProvider) middleware.UserLookup {
	return func(ctx context.Context) string {
		if p == nil {
			return ""
		}
		sess, err := p.Get(ctx)
		if err != nil || !sess.LoggedIn() {
			return ""
		}
		return sess.User.ID.String()
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Session: expose the logged-in user id to later middleware
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter (uploads included)
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, reads and writes in separate buckets)
//  10. Gzip, CORS and security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Current user for rate limiting, idempotency and logs
	r.Use(middleware.Session(sessionUser(deps.Sessions)))

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit: the upload cap plus multipart overhead
	r.Use(limitBody(cfg.Backend.MaxUploadBytes + 1<<20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	var receipts handlers.ReceiptStore
	if deps.DB != nil {
		shim := receiptShim{db: deps.DB}
		receipts = shim
		r.Use(middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			func(ctx context.Context, userID, roomID, key string, now time.Time) (bool, error) {
				rec, err := shim.Get(ctx, userID, roomID, key, now)
				if err != nil || rec == nil {
					return false, nil
				}
				return true, nil
			},
		))
	}

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.SplitReadsWrites(middleware.KeyByUserOrIP()))
	r.Use(rl.Handler())

	// 10) Compression, CORS and security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	hdeps := handlers.Deps{Receipts: receipts}
	if deps.Auth != nil {
		hdeps.Auth = deps.Auth
	}
	if deps.Orders != nil {
		hdeps.Orders = deps.Orders
	}
	if deps.Rooms != nil {
		hdeps.Rooms = roomsShim{rooms: deps.Rooms}
	}
	if deps.Notifications != nil {
		hdeps.Notifications = deps.Notifications
	}
	if deps.Notices != nil {
		hdeps.Notices = deps.Notices
	}
	h := handlers.New(hdeps)

	// Session
	r.POST("/session", h.Login)
	r.GET("/session", h.CurrentSession)
	r.DELETE("/session", h.Logout)

	// Orders
	r.GET("/orders", h.ListOrders)
	r.POST("/orders", h.CreateOrder)
	r.DELETE("/orders/:id", h.DeleteOrder)

	// Rooms
	rooms := r.Group("/rooms/:roomId")
	{
		rooms.POST("", h.OpenRoom)
		rooms.GET("", h.GetRoom)
		rooms.DELETE("", h.CloseRoom)
		rooms.POST("/messages", h.SendMessage)
		rooms.DELETE("/messages/:messageId", h.DeleteMessage)
		rooms.PUT("/follow", h.SetFollow)
		rooms.POST("/documents", h.UploadDocument)
		rooms.GET("/documents", h.ListDocuments)
		rooms.GET("/search", h.SearchMessages)
	}

	// Badge and notices
	r.GET("/badge", h.GetBadge)
	r.GET("/notices", h.ListNotices)
	r.DELETE("/notices/:id", h.DismissNotice)
}

// corsMiddleware allows every origin when none is configured; otherwise
// it echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", middleware.HeaderIdempotencyKey}
	expose := []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed"}
	methods := []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    expose,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    expose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
