package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tyredesk/quotesync/internal/quote"
)

type ServerConfig struct {
	Passcode      string
	SessionSecret string
	SessionTTL    time.Duration
	MaxBodyBytes  int64
}

// Server is the surface the form/list UI talks to. Everything except
// /health and the session endpoint sits behind the passcode gate.
type Server struct {
	orch   *quote.Orchestrator
	cfg    ServerConfig
	logger quote.Logger
}

func NewServer(orch *quote.Orchestrator, cfg ServerConfig, logger quote.Logger) *Server {
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "dev-secret"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{orch: orch, cfg: cfg, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/session" && r.Method == http.MethodPost {
		s.handleSession(w, r)
		return
	}

	token := bearerOrQueryToken(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
	if authErr := verifySessionToken(s.cfg.SessionSecret, token, time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}

	switch {
	case r.URL.Path == "/v1/quotes" && r.Method == http.MethodGet:
		s.handleListQuotes(w, r)
	case r.URL.Path == "/v1/quotes" && r.Method == http.MethodPost:
		s.handleSaveQuote(w, r)
	case r.URL.Path == "/v1/quotes/watch" && r.Method == http.MethodGet:
		s.handleWatchQuotes(w, r)
	case strings.HasPrefix(r.URL.Path, "/v1/quotes/") && r.Method == http.MethodDelete:
		s.handleDeleteQuote(w, r)
	case r.URL.Path == "/v1/sync/refresh" && r.Method == http.MethodPost:
		s.handleRefresh(w, r)
	case r.URL.Path == "/v1/backup" && r.Method == http.MethodGet:
		s.handleBackup(w, r)
	case r.URL.Path == "/v1/restore" && r.Method == http.MethodPost:
		s.handleRestore(w, r)
	case r.URL.Path == "/v1/settings" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.orch.Settings())
	case r.URL.Path == "/v1/settings" && r.Method == http.MethodPut:
		s.handleSaveSettings(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	var req struct {
		Passcode string `json:"passcode"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if !checkPasscode(req.Passcode, s.cfg.Passcode) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "incorrect passcode")
		return
	}
	token, exp, err := issueSessionToken(s.cfg.SessionSecret, time.Now().UTC(), s.cfg.SessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not issue session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     token,
		"expiresAt": exp.Format(time.RFC3339),
	})
}

func (s *Server) handleListQuotes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"quotes": s.orch.Snapshot(),
		"sync":   s.orch.Status(),
	})
}

func (s *Server) handleSaveQuote(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	var q quote.Quotation
	if err := json.Unmarshal(body, &q); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid quotation body")
		return
	}
	saved, err := s.orch.CreateOrUpdate(r.Context(), q)
	if err != nil {
		// Local state is already durable; report the stale remote but
		// return the saved quotation.
		s.logf("remote save failed: %v", err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"quote":   saved,
			"warning": "saved locally; remote store not yet updated",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": saved})
}

func (s *Server) handleDeleteQuote(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/quotes/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing quote id")
		return
	}
	if err := s.orch.Delete(r.Context(), id); err != nil {
		if errors.Is(err, quote.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "quote not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Refresh(r.Context()); err != nil {
		if errors.Is(err, quote.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "sync_in_progress", "a sync is already running")
			return
		}
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quotes": s.orch.Snapshot(),
		"sync":   s.orch.Status(),
	})
}

func (s *Server) handleBackup(w http.ResponseWriter, _ *http.Request) {
	backup := s.orch.Export()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="quotesync-backup.json"`)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(backup)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if err := s.orch.Restore(body); err != nil {
		if errors.Is(err, quote.ErrValidation) {
			writeError(w, http.StatusBadRequest, "invalid_backup", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	var details map[string]string
	if err := json.Unmarshal(body, &details); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid settings body")
		return
	}
	if err := s.orch.SaveSettings(details); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
