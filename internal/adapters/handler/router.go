package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes groups every handler the server mounts
type Routes struct {
	Webhook   *WebhookHandler
	Messages  *MessagesHandler
	Actions   *ActionsHandler
	Lifecycle *LifecycleHandler
	Dashboard *DashboardHandler
	LogStream http.HandlerFunc // nil disables /ws/logs
	APIKey    string           // guards /api when set
}

// NewRouter builds the HTTP routing table
func NewRouter(rt Routes) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)

	router.Get("/", rt.Dashboard.HandleRoot)
	router.Handle("/metrics", promhttp.Handler())
	router.Post("/webhook/chatwoot", rt.Webhook.HandleChatwootEvent)
	if rt.LogStream != nil {
		router.Get("/ws/logs", rt.LogStream)
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(apiKeyMiddleware(rt.APIKey))

		r.Get("/status", rt.Dashboard.GetStatus)
		r.Get("/system/metrics", rt.Dashboard.GetSystemMetrics)

		r.Post("/channels/chatwoot/messages", rt.Messages.HandleSend)
		r.Post("/actions/{name}", rt.Actions.HandleAction)

		r.Route("/integration", func(r chi.Router) {
			r.Post("/register", rt.Lifecycle.HandleRegister)
			r.Post("/unregister", rt.Lifecycle.HandleUnregister)
			r.Get("/inboxes/{id}/agent-bot", rt.Lifecycle.HandleInboxAgentBot)
		})
	})

	return router
}

func apiKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeJSON(w, http.StatusUnauthorized, NewErrorResponse(http.StatusUnauthorized, "Unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
