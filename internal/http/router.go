package http

import (
	"net/http"
	"time"

	"transcript-pipeline-service/internal/app"
	"transcript-pipeline-service/internal/observability"
	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/service/callback"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/service/transcript"
	"transcript-pipeline-service/internal/service/trigger"
	"transcript-pipeline-service/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Services are the pipeline components the HTTP surface exposes.
type Services struct {
	Store    storage.Store
	Receiver *callback.Receiver
	Editor   *transcript.Editor
	Trigger  *trigger.Router
	// Ledger may be nil when job tracking is off.
	Ledger job.Ledger
	// Live serves the websocket event feed.
	Live http.Handler
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, svc Services) http.Handler {
	cfg := application.Cfg
	ledger := svc.Ledger
	if ledger == nil {
		ledger = job.NopLedger{}
	}
	presignTTL := cfg.Storage.PresignTTL
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}

	h := &handlers{
		store:      svc.Store,
		receiver:   svc.Receiver,
		editor:     svc.Editor,
		trigger:    svc.Trigger,
		ledger:     ledger,
		sessions:   newSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL),
		username:   cfg.Auth.Username,
		password:   cfg.Auth.Password,
		eventToken: cfg.Auth.EventsToken,
		presignTTL: presignTTL,
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(metrics.DefaultMetrics))

	// Liveness and readiness
	r.Get("/v1/liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Machine-to-machine endpoints carry no session.
	r.Get("/callback/{jobId}/results", h.callbackVerify)
	r.Post("/callback/{jobId}/results", h.callbackResults)
	r.Post("/events/storage", h.storageEvent)

	r.Get("/login", h.loginForm)
	r.Post("/login", h.login)
	r.Get("/logout", h.logout)

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.require)

		r.Get("/", h.browse)
		r.Get("/download", h.download)
		for _, p := range []string{"/s3-post", "/upload"} {
			r.Get(p, h.uploadForm)
			r.Post(p, h.presignUpload)
		}
		r.Get("/edit", h.editLoad)
		r.Post("/edit", h.editApply)
		r.Get("/jobs/{jobId}", h.jobStatus)
		if svc.Live != nil {
			r.Method(http.MethodGet, "/events/ws", svc.Live)
		}
	})

	return r
}
