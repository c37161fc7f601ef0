package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/suspectuso/content-unlock/internal/metrics"
	"github.com/suspectuso/content-unlock/internal/storage"
	"github.com/suspectuso/content-unlock/internal/unlock"
)

const maxBodyBytes = 1 << 16

// Unlocker is the settlement engine behind the unlock endpoints
type Unlocker interface {
	Unlock(ctx context.Context, req unlock.PaymentRequest) (*unlock.Outcome, error)
	Grant(ctx context.Context, req unlock.GrantRequest) (*unlock.Outcome, error)
	Reissue(ctx context.Context, unlockID, callerID string) (*unlock.Outcome, error)
}

type StatsStore interface {
	PostStats(ctx context.Context, postID string) (*storage.PostStats, error)
	CreatorStats(ctx context.Context, creatorID string) (*storage.CreatorStats, error)
}

// Server exposes the unlock engine over HTTP
type Server struct {
	unlocker Unlocker
	stats    StatsStore
	auth     *Authenticator
	log      *slog.Logger

	server *http.Server
}

// NewServer creates a new API server
func NewServer(unlocker Unlocker, stats StatsStore, auth *Authenticator, log *slog.Logger) *Server {
	return &Server{
		unlocker: unlocker,
		stats:    stats,
		auth:     auth,
		log:      log,
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/unlock", s.handleUnlock)
		r.With(s.auth.Middleware).Post("/unlock/grant", s.handleGrant)
		r.With(s.auth.Optional).Get("/unlock/{unlockID}/access", s.handleReissue)
		r.Get("/posts/{postID}/stats", s.handlePostStats)
		r.Get("/creators/{creatorID}/stats", s.handleCreatorStats)
	})

	return r
}

// Start starts the API server and stops it when ctx is done
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type unlockRequest struct {
	PostID               string `json:"postId"`
	TransactionReference string `json:"transactionReference"`
}

type paymentBody struct {
	Amount        int64 `json:"amount"`
	PlatformFee   int64 `json:"platformFee"`
	CreatorPayout int64 `json:"creatorPayout"`
}

type unlockResponse struct {
	Success        bool         `json:"success"`
	UnlockID       string       `json:"unlockId"`
	AccessURL      string       `json:"accessUrl"`
	ExpiresAt      time.Time    `json:"expiresAt"`
	AlreadySettled bool         `json:"alreadySettled"`
	Payment        *paymentBody `json:"payment,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !s.decode(w, r, &req) {
		return
	}

	out, err := s.unlocker.Unlock(r.Context(), unlock.PaymentRequest{
		PostID: req.PostID,
		TxRef:  req.TransactionReference,
	})
	if err != nil {
		s.writeUnlockError(w, err)
		return
	}

	resp := newUnlockResponse(out)
	resp.Payment = &paymentBody{
		Amount:        out.Record.Amount,
		PlatformFee:   out.Record.PlatformFee,
		CreatorPayout: out.Record.CreatorPayout,
	}
	writeJSON(w, http.StatusOK, resp)
}

type grantRequest struct {
	PostID   string `json:"postId"`
	CallerID string `json:"callerId"`
	Reason   string `json:"reason"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity", "", false)
		return
	}

	var req grantRequest
	if !s.decode(w, r, &req) {
		return
	}
	if id := strings.TrimSpace(req.CallerID); id != "" && id != caller.ID {
		writeError(w, http.StatusForbidden, "caller mismatch", "callerId does not match token subject", false)
		return
	}

	kind := storage.KindPromotional
	if caller.HasScope(ScopeAgent) {
		kind = storage.KindAgent
	}

	out, err := s.unlocker.Grant(r.Context(), unlock.GrantRequest{
		PostID:   req.PostID,
		CallerID: caller.ID,
		Reason:   req.Reason,
		Kind:     kind,
	})
	if err != nil {
		s.writeUnlockError(w, err)
		return
	}

	resp := newUnlockResponse(out)
	if out.Record.Reason != nil {
		resp.Reason = *out.Record.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReissue(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	out, err := s.unlocker.Reissue(r.Context(), chi.URLParam(r, "unlockID"), caller.ID)
	if err != nil {
		s.writeUnlockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUnlockResponse(out))
}

func (s *Server) handlePostStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.PostStats(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		s.writeStatsError(w, "post not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"postId":        st.PostID,
		"unlockCount":   st.UnlockCount,
		"revenueAmount": st.RevenueAmount,
	})
}

func (s *Server) handleCreatorStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.CreatorStats(r.Context(), chi.URLParam(r, "creatorID"))
	if err != nil {
		s.writeStatsError(w, "creator not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"creatorId":    st.CreatorID,
		"totalUnlocks": st.TotalUnlocks,
		"totalRevenue": st.TotalRevenue,
	})
}

func newUnlockResponse(out *unlock.Outcome) unlockResponse {
	return unlockResponse{
		Success:        true,
		UnlockID:       out.Record.ID,
		AccessURL:      out.Access.URL,
		ExpiresAt:      out.Access.ExpiresAt.UTC(),
		AlreadySettled: out.AlreadySettled,
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.log.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, unlock.KindInvalidRequest.String(), "malformed JSON body", false)
		return false
	}
	return true
}

func (s *Server) writeUnlockError(w http.ResponseWriter, err error) {
	ue, ok := unlock.AsError(err)
	if !ok {
		s.log.Error("unlock failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "", false)
		return
	}

	status := http.StatusBadRequest
	switch ue.Kind {
	case unlock.KindNotFound:
		status = http.StatusNotFound
	case unlock.KindForbidden:
		status = http.StatusForbidden
	case unlock.KindUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, ue.Kind.String(), ue.Reason, ue.Retryable())
}

func (s *Server) writeStatsError(w http.ResponseWriter, notFound string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, unlock.KindNotFound.String(), notFound, false)
		return
	}
	s.log.Error("load stats", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error", "", false)
}

type errorBody struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable"`
}

func writeError(w http.ResponseWriter, status int, message, reason string, retryable bool) {
	writeJSON(w, status, errorBody{Error: message, Reason: reason, Retryable: retryable})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
