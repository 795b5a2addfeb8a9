// Package httpapi exposes the small HTTP surface of the bot: the
// mobile-money callback endpoint and a health check.
package httpapi

import (
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/payment"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Reconciler applies a provider callback to the matching user.
type Reconciler interface {
	Reconcile(ctx context.Context, reference string, status domain.PaymentStatus) (payment.ReconcileResult, error)
}

// Server hosts the callback and health endpoints.
type Server struct {
	httpServer *http.Server
	reconciler Reconciler
	log        zerolog.Logger
}

// NewServer builds the HTTP server on the given listen address.
func NewServer(listenAddr string, reconciler Reconciler, baseLogger *zerolog.Logger) *Server {
	s := &Server{
		reconciler: reconciler,
		log:        baseLogger.With().Str("component", "http_api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/payments/callback", s.handlePaymentCallback)

	s.httpServer = &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info().Msg("Shutting down HTTP API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// callbackPayload is what the provider posts when a payment settles.
type callbackPayload struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// handlePaymentCallback applies the provider's verdict. The provider
// retries non-200 responses aggressively, so everything we can classify
// is answered 200, including references we no longer recognize.
func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var payload callbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.log.Warn().Err(err).Msg("Unparsable payment callback")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.Reference == "" {
		http.Error(w, "missing reference", http.StatusBadRequest)
		return
	}

	log := s.log.With().Str("reference", payload.Reference).Str("status", payload.Status).Logger()

	result, err := s.reconciler.Reconcile(r.Context(), payload.Reference, domain.PaymentStatus(payload.Status))
	if err != nil {
		if errors.Is(err, domain.ErrUnknownReference) {
			// A reference we never issued, or a user purged since. Retrying
			// will not help the provider.
			log.Warn().Msg("Callback for unknown reference")
			w.WriteHeader(http.StatusOK)
			return
		}
		log.Error().Err(err).Msg("Reconciliation failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Info().Str("result", string(result)).Msg("Callback reconciled")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result": string(result)})
}
