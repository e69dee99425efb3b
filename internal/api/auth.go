package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"taskmaster/pkg/identity"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	ident, err := s.auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, 201, ident)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	ident, err := s.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, 200, ident)
}

// writeAuthError passes provider rejections through verbatim with a 401;
// anything else is an internal failure.
func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		writeError(w, 401, authErr.Message)
		return
	}
	writeError(w, 500, err.Error())
}
