package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/api/middleware"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/chat"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/store"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/ws"
)

// upgrader accepts any origin; identity is a display name, not a cookie, so
// cross-origin pages cannot ride an existing session.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter creates and configures the HTTP router. redisStore may be nil;
// rate limiting is skipped without it.
func NewRouter(logger zerolog.Logger, room *chat.Room, redisStore *store.RedisStore, limiterCfg middleware.RateLimiterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (only when Redis is configured)
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, limiterCfg)
		r.Use(limiter.Middleware)
	}

	// CORS for the static assets; the WebSocket endpoint does its own
	// origin handling in the upgrader.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// The one real-time endpoint: upgrade and hand the socket to the room.
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		ws.NewSession(conn, room, logger).Serve()
	})

	// Static files and the room UI
	r.Get("/", serveLandingPage)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir()))))

	return r
}

// staticDir returns the path to static files directory.
func staticDir() string {
	// Check if running from app directory (production container)
	if _, err := os.Stat("/app/web/static"); err == nil {
		return "/app/web/static"
	}
	return "web/static"
}

// serveLandingPage serves the room UI.
func serveLandingPage(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, staticDir()+"/index.html")
}
