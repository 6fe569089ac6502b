package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codex-team/hawk.events/internal/api/handler"
	mw "github.com/codex-team/hawk.events/internal/api/middleware"
	"github.com/codex-team/hawk.events/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the
// router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	Events *handler.Events
	Stream *handler.Stream

	HealthHandler http.HandlerFunc
}

// NewRouter builds the chi router with the middleware stack and all
// routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/events/stream", deps.Stream.Serve)

		r.Route("/api/v1/projects/{projectID}", func(r chi.Router) {
			r.Post("/", deps.Events.Provision)
			r.Delete("/", deps.Events.RemoveProject)

			r.Get("/events", deps.Events.List)
			r.Get("/chart", deps.Events.ProjectChart)
			r.Get("/unread-count", deps.Events.UnreadCount)
			r.Get("/releases/{release}", deps.Events.GetRelease)

			r.Route("/events/{eventID}", func(r chi.Router) {
				r.Get("/repetitions", deps.Events.Repetitions)
				r.Get("/chart", deps.Events.GroupChart)
				r.Post("/marks/{mark}", deps.Events.ToggleMark)
				r.Post("/visit", deps.Events.Visit)
				r.Put("/assignee", deps.Events.UpdateAssignee)
			})
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
