package router

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inaiurai/studio/internal/handlers"
	"github.com/inaiurai/studio/internal/middleware"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth        middleware.TokenValidator
	Generations *handlers.GenerationHandler
	Images      *handlers.ImageHandler
	Accounts    *handlers.AccountHandler
	DB          Pinger
	Gatherer    prometheus.Gatherer
}

// New returns the API handler. Everything under /v1 requires a bearer token.
func New(d Deps) http.Handler {
	v1 := http.NewServeMux()
	v1.Handle("POST /v1/generations", middleware.KindCheck(http.HandlerFunc(d.Generations.Start)))
	v1.HandleFunc("GET /v1/generations", d.Generations.List)
	v1.HandleFunc("GET /v1/generations/{id}", d.Generations.Get)
	v1.HandleFunc("DELETE /v1/generations/{id}", d.Generations.SoftDelete)
	v1.HandleFunc("POST /v1/generations/{id}/restore", d.Generations.Restore)
	v1.HandleFunc("DELETE /v1/generations/{id}/permanent", d.Generations.PermanentlyDelete)
	v1.HandleFunc("POST /v1/images/{id}/discard", d.Images.Discard)
	v1.HandleFunc("POST /v1/images/{id}/restore", d.Images.Restore)
	v1.HandleFunc("DELETE /v1/trash", d.Images.EmptyTrash)
	v1.HandleFunc("GET /v1/account", d.Accounts.GetMe)
	v1.HandleFunc("GET /v1/credit-ledger", d.Accounts.ListCreditLedger)

	mux := http.NewServeMux()
	mux.Handle("/v1/", middleware.BearerAuth(d.Auth)(v1))
	mux.HandleFunc("GET /healthz", healthz(d.DB))
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
