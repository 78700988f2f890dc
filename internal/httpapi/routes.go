package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lordfarm/internal/ws"
)

func SetupRoutes(a *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.log))

	r.Get("/healthz", a.Healthz)
	r.Get("/presets", a.Presets)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", a.CreateSession)
		r.Get("/", a.ListSessions)
		r.Get("/{id}", a.GetSession)
		r.Post("/{id}/events", a.PostEvent)
	})
	r.Get("/ws", ws.Handler(a.hub, a, a.log))

	// Profiles need a database.
	if a.profiles != nil {
		r.Post("/players", a.UpsertPlayer)
		r.Get("/players/{id}", a.GetPlayer)
		r.Delete("/players/{id}", a.DeletePlayer)
	}
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
