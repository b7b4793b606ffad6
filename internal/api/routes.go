package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(handler.log))

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Sector ledger
	api.HandleFunc("/sectors", handler.ListSectors).Methods("GET")
	api.HandleFunc("/sectors/{sector}/observations", handler.ListObservations).Methods("GET")
	api.HandleFunc("/sectors/{sector}/observations/{date}", handler.GetObservation).Methods("GET")
	api.HandleFunc("/sectors/{sector}/observations/{date}", handler.PutObservation).Methods("PUT")
	api.HandleFunc("/sectors/{sector}/observations/{date}", handler.DeleteObservation).Methods("DELETE")
	api.HandleFunc("/snapshot/{date}", handler.GetSnapshot).Methods("GET")

	// Market aggregates
	api.HandleFunc("/market", handler.ListMarket).Methods("GET")
	api.HandleFunc("/market/recompute", handler.RecomputeAll).Methods("POST")
	api.HandleFunc("/market/{date}", handler.GetMarket).Methods("GET")
	api.HandleFunc("/market/{date}", handler.DeleteMarket).Methods("DELETE")
	api.HandleFunc("/market/{date}/total-stock", handler.SupplyTotalStock).Methods("PUT")
	api.HandleFunc("/market/{date}/recompute", handler.RecomputeDate).Methods("POST")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func requestLogger(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
