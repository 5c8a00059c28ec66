package prometheus

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	h "inviqa/mqtt-outbox-relay/http"
	"inviqa/mqtt-outbox-relay/log"
)

const shutdownTimeout = time.Second * 5

// StartHttpServer serves /metrics and /healthz until ctx is done.
func StartHttpServer(ctx context.Context, addr string, checkAddr []string, dbs map[string]h.Pinger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", h.NewHealthzHandler(checkAddr, dbs))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Logger.WithError(err).Error("error shutting down the prometheus HTTP server")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Logger.Fatalf("failed to start prometheus HTTP server: %s", err)
	}
}
