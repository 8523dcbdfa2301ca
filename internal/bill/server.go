package bill

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wexel/wexel/internal/whatsapp"
)

// Server handles HTTP requests for bills, sheets and contacts.
type Server struct {
	service     *Service
	basicAuth   BasicAuth
	owner       string
	verifyToken string
	media       whatsapp.MediaFetcher
	mux         *http.ServeMux
}

// BasicAuth holds basic authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// ServerConfig wires the server's collaborators. Owner is the workspace the
// API operates on; the core below stays keyed by owner ID throughout.
type ServerConfig struct {
	Owner       string
	BasicAuth   BasicAuth
	VerifyToken string
	Media       whatsapp.MediaFetcher
}

// NewServer creates a new Server with default mux.
func NewServer(service *Service, cfg ServerConfig) *Server {
	return NewServerWithMux(service, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing.
func NewServerWithMux(service *Service, cfg ServerConfig, mux *http.ServeMux) *Server {
	owner := cfg.Owner
	if owner == "" {
		owner = "default"
	}
	s := &Server{
		service:     service,
		basicAuth:   cfg.BasicAuth,
		owner:       owner,
		verifyToken: cfg.VerifyToken,
		media:       cfg.Media,
		mux:         mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials.
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Wexel"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux.
// Routes must be registered from most specific to least specific.
func (s *Server) registerRoutes() {
	// Bills
	s.mux.HandleFunc("GET /api/bills/{id}/image", s.requireAuth(s.handleGetBillImage))
	s.mux.HandleFunc("GET /api/bills/{id}", s.requireAuth(s.handleGetBill))
	s.mux.HandleFunc("PUT /api/bills/{id}", s.requireAuth(s.handleUpdateBill))
	s.mux.HandleFunc("DELETE /api/bills/{id}", s.requireAuth(s.handleDeleteBill))
	s.mux.HandleFunc("GET /api/bills", s.requireAuth(s.handleListBills))
	s.mux.HandleFunc("POST /api/bills", s.requireAuth(s.handleUploadBill))

	// Daily sheets and export
	s.mux.HandleFunc("GET /api/sheets/{date}/export", s.requireAuth(s.handleExportSheet))
	s.mux.HandleFunc("GET /api/sheets/{date}", s.requireAuth(s.handleGetSheet))
	s.mux.HandleFunc("GET /api/sheets", s.requireAuth(s.handleListSheets))
	s.mux.HandleFunc("GET /api/gross-sales", s.requireAuth(s.handleGrossSales))

	// Contacts
	s.mux.HandleFunc("GET /api/contacts/{id}/photos", s.requireAuth(s.handleContactPhotos))
	s.mux.HandleFunc("GET /api/contacts/{id}", s.requireAuth(s.handleGetContact))
	s.mux.HandleFunc("PUT /api/contacts/{id}", s.requireAuth(s.handleUpdateContact))
	s.mux.HandleFunc("DELETE /api/contacts/{id}", s.requireAuth(s.handleDeleteContact))
	s.mux.HandleFunc("GET /api/contacts", s.requireAuth(s.handleListContacts))
	s.mux.HandleFunc("POST /api/contacts", s.requireAuth(s.handleCreateContact))

	// WhatsApp webhook: authenticated by the verify token handshake and
	// the platform's callback contract, not basic auth
	s.mux.HandleFunc("GET /api/whatsapp/webhook", s.handleVerifyWebhook)
	s.mux.HandleFunc("POST /api/whatsapp/webhook", s.handleWebhook)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
