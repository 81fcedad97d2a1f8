package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"aluastro/internal/csrftoken"
	"aluastro/internal/ratelimit"
	"aluastro/internal/util"
	"aluastro/pkg/domain"
	"aluastro/services/api/internal/app"
	"aluastro/services/api/internal/intake"
)

// Error codes returned in the error envelope.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeRequestTooLarge     = "REQUEST_TOO_LARGE"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeUnsupportedFileType = "UNSUPPORTED_FILE_TYPE"
	CodeCSRFInvalid         = "CSRF_INVALID"
	CodeRateLimited         = "RATE_LIMITED"
	CodeServerError         = "SERVER_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
)

const (
	applyRateLimitMessage = "Too many applications submitted, please try again later."
	notFoundMessage       = "Endpoint not found."
	serverErrorMessage    = "Something went wrong while processing your application."

	// room for text fields and multipart framing on top of the file ceiling
	formOverheadBytes int64 = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	ApplyLimiter   ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	Intake         intake.Policy
	CSRF           *csrftoken.Manager
	Now            func() time.Time
}

// Server exposes HTTP endpoints for the membership API.
type Server struct {
	app          *app.App
	applyLimiter ratelimit.Limiter
	trusted      *util.TrustedProxies
	corsOrigins  []string
	intake       intake.Policy
	csrf         *csrftoken.Manager
	now          func() time.Time
	maxBodyBytes int64
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.ApplyLimiter == nil {
		return nil, errors.New("apply rate limiter is required")
	}
	policy := cfg.Intake
	if policy.MaxBytes() <= 0 {
		policy = intake.NewPolicy(0, nil)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		app:          cfg.App,
		applyLimiter: cfg.ApplyLimiter,
		trusted:      cfg.TrustedProxies,
		corsOrigins:  cfg.CORSOrigins,
		intake:       policy,
		csrf:         cfg.CSRF,
		now:          now,
		maxBodyBytes: policy.MaxBytes() + formOverheadBytes,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins)(s.mux))))
}

type route struct {
	path    string
	methods []string
	handler http.HandlerFunc
}

func (s *Server) routeTable() []route {
	return []route{
		{"/health", []string{http.MethodGet, http.MethodHead}, s.handleHealth},
		{"/healthz", []string{http.MethodGet, http.MethodHead}, s.handleHealth},

		// applications; /apply is kept for older form posts
		{"/api/apply", []string{http.MethodPost}, s.handleApply},
		{"/apply", []string{http.MethodPost}, s.handleApply},
		{"/api/csrf", []string{http.MethodGet}, s.handleCSRF},

		// listings
		{"/api/projects", []string{http.MethodGet}, s.handleProjects},
		{"/api/inspiration", []string{http.MethodGet}, s.handleInspiration},
	}
}

func (s *Server) routes() {
	for _, rt := range s.routeTable() {
		s.mux.Handle(rt.path, allowMethods(rt.methods, rt.handler))
	}
	s.mux.HandleFunc("/", s.handleNotFound)
}

// Routes returns every public path and the methods it accepts.
func Routes() map[string][]string {
	var s Server
	out := make(map[string][]string)
	for _, rt := range s.routeTable() {
		out[rt.path] = append([]string(nil), rt.methods...)
	}
	return out
}

// ErrorCodes returns every code the error envelope can carry.
func ErrorCodes() []string {
	return []string{
		CodeValidation,
		CodeInvalidRequest,
		CodeRequestTooLarge,
		CodeFileTooLarge,
		CodeUnsupportedFileType,
		CodeCSRFInvalid,
		CodeRateLimited,
		CodeServerError,
		CodeNotFound,
		CodeMethodNotAllowed,
	}
}

func allowMethods(methods []string, next http.HandlerFunc) http.Handler {
	allow := strings.Join(methods, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(methods, r.Method) {
			w.Header().Set("Allow", allow)
			methodNotAllowed(w, r)
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	if s.csrf == nil {
		s.handleNotFound(w, r)
		return
	}
	token, expires, err := s.csrf.Issue()
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("csrf token issue failed", "err", err)
		writeError(w, r, http.StatusInternalServerError, CodeServerError, serverErrorMessage, nil)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{
		"csrfToken": token,
		"expiresAt": expires.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	writeJSON(w, http.StatusOK, s.app.ListProjects(page, pageSize))
}

func (s *Server) handleInspiration(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	writeJSON(w, http.StatusOK, s.app.ListInspiration(page, pageSize))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, CodeNotFound, notFoundMessage, nil)
}

// pageParams returns zero for absent or invalid values so the app applies
// its defaults.
func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	return positiveInt(q.Get("page")), positiveInt(q.Get("pageSize"))
}

func positiveInt(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// allowRate consumes one slot for the caller and writes the RateLimit-*
// headers. It writes the 429 response itself when the slot is denied.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, scope, msg string) bool {
	key := scope + "|" + util.ClientIP(r, s.trusted)
	decision := limiter.Allow(r.Context(), key)
	reset := ceilSeconds(decision.ResetAfter)
	w.Header().Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("RateLimit-Reset", strconv.Itoa(reset))
	if decision.Allowed {
		return true
	}
	if reset < 1 {
		reset = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(reset))
	writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, msg, nil)
	return false
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed.", nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details map[string]any) {
	requestID := util.RequestIDFromRequest(r)
	if requestID == "" {
		requestID = w.Header().Get(util.RequestIDHeader)
	}
	writeJSON(w, status, domain.ErrorResponse{
		Code:      code,
		Message:   msg,
		Details:   details,
		RequestID: requestID,
	})
}
