// Package rest exposes the vault over HTTP/JSON: stateless unlock, entry
// CRUD, master password rotation, and attachment presigning. Every endpoint
// that touches sensitive data takes the encryption key in the request body;
// the server uses it for the one request and forgets it.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dzaharov/passvault/internal/logging"
	"github.com/dzaharov/passvault/internal/server/entries"
	"github.com/dzaharov/passvault/internal/server/ratelimit"
	"github.com/dzaharov/passvault/internal/server/vault"
)

// unlockOperation keys the rate-limit window for unlock attempts.
const unlockOperation = "unlock"

type Server struct {
	address   string
	logger    logging.Logger
	entries   *entries.Service
	validator *vault.Validator
	rotator   *vault.Rotator
	limiter   *ratelimit.Limiter
	jwtSecret []byte
}

func NewServer(address string, l logging.Logger, es *entries.Service, v *vault.Validator,
	rot *vault.Rotator, lim *ratelimit.Limiter, secretKey string) *Server {
	return &Server{
		address:   address,
		logger:    l.With("module", "rest_server"),
		entries:   es,
		validator: v,
		rotator:   rot,
		limiter:   lim,
		jwtSecret: []byte(secretKey),
	}
}

// Router builds the chi routing tree. Everything under /vault requires a
// valid bearer token.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/vault", func(r chi.Router) {
		r.Use(s.authenticator)

		r.Post("/unlock", s.handleUnlock)
		r.Post("/change-master-password", s.handleChangeMasterPassword)

		r.Route("/entries", func(r chi.Router) {
			r.Post("/", s.handleCreateEntry)
			r.Post("/list", s.handleListEntries)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/", s.handleGetEntry)
				r.Put("/", s.handleUpdateEntry)
				r.Delete("/", s.handleDeleteEntry)
				r.Post("/attachment", s.handleAttachmentUpload)
				r.Get("/attachment", s.handleAttachmentDownload)
			})
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.address,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
