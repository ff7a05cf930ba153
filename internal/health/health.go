// Package health exposes the ingest-and-query service's readiness
// check. It replaces the teacher's outbound provider/endpoint probes
// (this service has no upstream provider to dial) with a single
// dependency check: can the durable store be reached.
package health

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by internal/store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check runs every readiness dependency check and returns the first
// error, or nil if the service is ready to serve traffic.
func Check(ctx context.Context, store Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return store.Ping(ctx)
}

// Handler returns an http.Handler suitable for GET /healthz: 200 and
// "ok" if the store answers, 503 and the error text otherwise.
func Handler(store Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Check(r.Context(), store); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}
