package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"taskmaster/pkg/identity"
	"taskmaster/pkg/todo"
)

// TodoStore is the store surface the API serves: the client contract plus
// a direct snapshot read for plain GET requests.
type TodoStore interface {
	todo.Store
	Snapshot(ctx context.Context, ownerID string) ([]todo.Todo, error)
}

// AuthService is the account surface of the identity provider.
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (*identity.Identity, error)
	SignUp(ctx context.Context, email, password string) (*identity.Identity, error)
}

// BlobReader serves stored attachment bytes.
type BlobReader interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Server is the HTTP reference backend: accounts, the todos collection with
// an owner-scoped SSE snapshot stream, and attachment blobs.
type Server struct {
	todos TodoStore
	auth  AuthService
	blobs BlobReader
	mux   *http.ServeMux
}

// New creates a Server. blobs may be nil when uploads are disabled.
func New(todos TodoStore, auth AuthService, blobs BlobReader) *Server {
	s := &Server{
		todos: todos,
		auth:  auth,
		blobs: blobs,
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Auth
	s.mux.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	s.mux.HandleFunc("POST /api/auth/signin", s.handleSignIn)

	// Todos
	s.mux.HandleFunc("GET /api/todos", s.handleTodoList)
	s.mux.HandleFunc("POST /api/todos", s.handleTodoCreate)
	s.mux.HandleFunc("PATCH /api/todos/{id}", s.handleTodoUpdate)
	s.mux.HandleFunc("DELETE /api/todos/{id}", s.handleTodoDelete)
	s.mux.HandleFunc("GET /api/todos/stream", s.handleTodoStream)

	// Attachments
	s.mux.HandleFunc("GET /blobs/{path...}", s.handleBlobGet)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
