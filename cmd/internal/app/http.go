package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lanyard/cmd/internal/feed"
	"lanyard/cmd/internal/gateapi"
	"lanyard/cmd/internal/metrics"
	"lanyard/cmd/internal/wallet"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	gate *gateapi.Handler,
	apple *wallet.AppleHandler,
	google *wallet.GoogleFlow,
	feedGW *feed.Gateway,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Error("metrics.register.fail", "err", err)
	}
	mux.Handle("/metrics", promhttp.Handler())

	if gate != nil {
		gate.Register(mux)
	}
	if apple != nil {
		apple.Register(mux)
	}
	if google != nil {
		google.Register(mux)
	}
	if feedGW != nil {
		mux.HandleFunc("/feed", feedGW.HandleWS)
	}
}
