package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"gundeshapur/internal/app"
	"gundeshapur/internal/usertoken"
	"gundeshapur/internal/util"
	"gundeshapur/pkg/domain"
	"gundeshapur/pkg/sheetdb"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier

	// TrustedProxyCIDRs lists proxies whose forwarded headers are
	// believed when resolving client IPs for security logs.
	TrustedProxyCIDRs []string
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		trustedProxies: trustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("gundeshapur", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/setup", s.authenticated(s.handleSetup))
	s.mux.Handle("/api/setup/connect", s.authenticated(s.handleSetupConnect))

	s.mux.Handle("/api/books", s.authenticated(s.handleBooks))
	s.mux.Handle("/api/books/", s.authenticated(s.handleBookByID))
	s.mux.Handle("/api/members", s.authenticated(s.handleMembers))
	s.mux.Handle("/api/members/", s.authenticated(s.handleMemberByID))
	s.mux.Handle("/api/loans", s.authenticated(s.handleLoans))
	s.mux.Handle("/api/loans/", s.authenticated(s.handleLoanByID))

	s.mux.Handle("/api/assistant", s.authenticated(s.handleAssistant))
	s.mux.Handle("/api/backup", s.authenticated(s.handleBackup))

	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/logs", s.adminOnly(s.handleAdminLogs))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	claims, err := s.tokenVerifier.Verify(token)
	if err != nil {
		slog.Warn("token rejected", "path", r.URL.Path, "ip", util.ClientIP(r, s.trustedProxies), "error", err)
		return domain.User{}, false
	}
	user, err := s.app.EnsureUser(claims)
	if err != nil {
		slog.Error("resolve user failed", "subject", claims.Subject, "error", err)
		return domain.User{}, false
	}
	return user, true
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type setupRequest struct {
	LibraryName string `json:"libraryName"`
	SheetID     string `json:"sheetId"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req setupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := s.app.SetupCreate(r.Context(), user, req.LibraryName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, updated)
}

func (s *Server) handleSetupConnect(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req setupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := s.app.SetupConnect(r.Context(), user, req.SheetID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Books.

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks(r.Context(), user)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
	case http.MethodPost:
		var book domain.Book
		if !decodeBody(w, r, &book) {
			return
		}
		created, err := s.app.CreateBook(r.Context(), user, book)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathID(r.URL.Path, "/api/books/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, ok, err := s.app.GetBook(r.Context(), user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPatch:
		var patch domain.BookPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		updated, err := s.app.UpdateBook(r.Context(), user, id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), user, id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// Members.

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		members, err := s.app.ListMembers(r.Context(), user)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": members, "count": len(members)})
	case http.MethodPost:
		var member domain.Member
		if !decodeBody(w, r, &member) {
			return
		}
		created, err := s.app.CreateMember(r.Context(), user, member)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMemberByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathID(r.URL.Path, "/api/members/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		member, ok, err := s.app.GetMember(r.Context(), user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "member not found")
			return
		}
		writeJSON(w, http.StatusOK, member)
	case http.MethodPatch:
		var patch domain.MemberPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		updated, err := s.app.UpdateMember(r.Context(), user, id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.app.DeleteMember(r.Context(), user, id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// Loans.

type lendRequest struct {
	BookID   string `json:"bookId"`
	MemberID string `json:"memberId"`
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		loans, err := s.app.ListLoans(r.Context(), user)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": loans, "count": len(loans)})
	case http.MethodPost:
		var req lendRequest
		if !decodeBody(w, r, &req) {
			return
		}
		loan, err := s.app.Lend(r.Context(), user, req.BookID, req.MemberID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, loan)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/loans/")
	if rest == "" || strings.Contains(strings.TrimSuffix(rest, "/return"), "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/return"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		loan, err := s.app.Return(r.Context(), user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
		return
	}

	switch r.Method {
	case http.MethodGet:
		loan, ok, err := s.app.GetLoan(r.Context(), user, rest)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "loan not found")
			return
		}
		writeJSON(w, http.StatusOK, loan)
	case http.MethodDelete:
		if err := s.app.DeleteLoan(r.Context(), user, rest); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// Assistant and backup.

type assistantRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req assistantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	answer, err := s.app.Ask(r.Context(), user, req.Question)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.Backup(r.Context(), user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// Admin.

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users, "count": len(users)})
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, ok := s.app.AuditLog()
	if !ok {
		writeError(w, http.StatusNotImplemented, "audit log is not kept in-process")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

// Helpers.

func pathID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application and store errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrLibraryNotConnected):
		writeError(w, http.StatusConflict, "library not connected, run setup first")
	case errors.Is(err, app.ErrInvalidSpreadsheet):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrPlanRequired):
		writeError(w, http.StatusPaymentRequired, "feature requires a paid plan")
	case errors.Is(err, app.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many assistant requests")
	case errors.Is(err, app.ErrAssistantUnavailable),
		errors.Is(err, app.ErrBackupUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, sheetdb.ErrBookNotFound),
		errors.Is(err, sheetdb.ErrMemberNotFound),
		errors.Is(err, sheetdb.ErrLoanNotFound),
		errors.Is(err, sheetdb.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sheetdb.ErrNoCopiesAvailable),
		errors.Is(err, sheetdb.ErrMemberInactive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sheetdb.ErrSchema),
		errors.Is(err, sheetdb.ErrColumnMissing):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
