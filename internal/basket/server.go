package basket

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/VaralaVishal/Pan-Management-System/internal/recognition"
	"github.com/VaralaVishal/Pan-Management-System/internal/review"
)

// Server handles HTTP requests for the pan basket API
type Server struct {
	service    *Service
	recognizer recognition.Recognizer
	basicAuth  BasicAuth
	mux        *http.ServeMux

	// One editing session per upload; each owns its row store and is
	// never shared across sessions.
	sessionsMu sync.Mutex
	sessions   map[string]*editSession
}

// editSession pairs a row store with the recognized text it was
// seeded from.
type editSession struct {
	id      string
	store   *review.Session
	text    string
	message string
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, recognizer recognition.Recognizer, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, recognizer, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, recognizer recognition.Recognizer, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:    service,
		recognizer: recognizer,
		basicAuth:  basicAuth,
		mux:        mux,
		sessions:   make(map[string]*editSession),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
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

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Pan Basket"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Extraction pipeline and row review
	s.mux.HandleFunc("POST /api/ocr/upload", s.requireAuth(s.handleUpload))
	s.mux.HandleFunc("POST /api/ocr/parse", s.requireAuth(s.handleParseText))
	s.mux.HandleFunc("PATCH /api/ocr/sessions/{id}/rows/{index}", s.requireAuth(s.handleUpdateRow))
	s.mux.HandleFunc("DELETE /api/ocr/sessions/{id}/rows/{index}", s.requireAuth(s.handleRemoveRow))
	s.mux.HandleFunc("POST /api/ocr/sessions/{id}/rows", s.requireAuth(s.handleAppendRow))
	s.mux.HandleFunc("POST /api/ocr/sessions/{id}/save", s.requireAuth(s.handleSaveSession))
	s.mux.HandleFunc("GET /api/ocr/sessions/{id}", s.requireAuth(s.handleGetSession))

	// Parties
	s.mux.HandleFunc("GET /api/wholesalers", s.requireAuth(s.handleListWholesalers))
	s.mux.HandleFunc("POST /api/wholesalers", s.requireAuth(s.handleAddWholesaler))
	s.mux.HandleFunc("GET /api/panshops", s.requireAuth(s.handleListPanShops))
	s.mux.HandleFunc("POST /api/panshops", s.requireAuth(s.handleAddPanShop))

	// Persisted records
	s.mux.HandleFunc("GET /api/entries", s.requireAuth(s.handleListEntries))
	s.mux.HandleFunc("POST /api/entries", s.requireAuth(s.handleAddEntry))
	s.mux.HandleFunc("PUT /api/entries/{id}", s.requireAuth(s.handleUpdateEntry))
	s.mux.HandleFunc("DELETE /api/entries/{id}", s.requireAuth(s.handleDeleteEntry))
	s.mux.HandleFunc("GET /api/payments", s.requireAuth(s.handleListPayments))
	s.mux.HandleFunc("POST /api/payments", s.requireAuth(s.handleAddPayment))
}

// newSession registers a fresh editing session seeded from recognized
// or hand-entered text.
func (s *Server) newSession(text string) *editSession {
	store := review.NewSession(s.service)
	found := store.LoadText(text)

	es := &editSession{
		id:    s.service.idGenerator.Generate(),
		store: store,
		text:  text,
	}
	if !found {
		es.message = "No valid data rows detected. You can add rows manually below."
	}

	s.sessionsMu.Lock()
	s.sessions[es.id] = es
	s.sessionsMu.Unlock()
	return es
}

// session looks up an editing session by ID.
func (s *Server) session(id string) (*editSession, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	es, ok := s.sessions[id]
	return es, ok
}

// dropSession discards an editing session once it is finished with.
func (s *Server) dropSession(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
