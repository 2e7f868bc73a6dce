package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/store"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin implements POST /auth/login (§6.1).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("missingCredentials"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("missingCredentials"))
		return
	}

	ctx := r.Context()
	user, ok, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		s.log.Error("httpapi: login lookup failed", "error", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalidCredentials"))
		return
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalidCredentials"))
		return
	}
	valid, err := auth.VerifyPassword(req.Password, user.PasswordHash, user.PasswordSalt)
	if err != nil || !valid {
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalidCredentials"))
		return
	}

	ip := clientIP(r)
	token, err := s.issuer.Issue(user.Username, ip)
	if err != nil {
		s.log.Error("httpapi: issue token failed", "error", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalidCredentials"))
		return
	}
	if err := s.store.RecordLogin(ctx, user.ID, ip, token); err != nil {
		s.log.Error("httpapi: record login failed", "error", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalidCredentials"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"user": userWithToken{
			Identity: user.Sanitize(),
			Token:    token,
		},
	})
}

type userWithToken struct {
	auth.Identity
	Token string `json:"token"`
}

type registerRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Repassword string `json:"repassword"`
}

// handleRegister implements POST /auth/register (§6.1), including the
// fixed error code set and username/email format constraints.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("usernameMissing"))
		return
	}

	if code, ok := validateRegistration(req); !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse(code))
		return
	}

	ctx := r.Context()
	if _, ok, err := s.store.GetUserByUsername(ctx, req.Username); err != nil {
		s.log.Error("httpapi: register username lookup failed", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse("usernameTaken"))
		return
	} else if ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("usernameTaken"))
		return
	}
	if _, ok, err := s.store.GetUserByEmail(ctx, req.Email); err != nil {
		s.log.Error("httpapi: register email lookup failed", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse("emailTaken"))
		return
	} else if ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("emailTaken"))
		return
	}

	hash, salt, err := auth.HashPassword(req.Password)
	if err != nil {
		s.log.Error("httpapi: hash password failed", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse("passwordMissing"))
		return
	}

	user, err := s.store.CreateUser(ctx, store.NewUser{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		PasswordSalt: salt,
	})
	if err != nil {
		s.log.Error("httpapi: create user failed", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse("usernameTaken"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user.Sanitize()})
}

func validateRegistration(req registerRequest) (string, bool) {
	switch {
	case req.Username == "":
		return "usernameMissing", false
	case req.Password == "":
		return "passwordMissing", false
	case req.Repassword == "":
		return "repasswordMissing", false
	case req.Email == "":
		return "emailMissing", false
	case !emailPattern.MatchString(req.Email):
		return "invalidEmail", false
	case req.Password != req.Repassword:
		return "passwordsDontMatch", false
	case !usernamePattern.MatchString(req.Username):
		return "invalidUsernameFormat", false
	case len(req.Username) < 3 || len(req.Username) > 20:
		return "invalidUsernameLength", false
	}
	return "", true
}

// handleLogout implements POST /auth/logout: always 200, since the
// client simply discards its token; the server has no session table to
// invalidate beyond overwriting lastToken on the next login.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleVerify implements POST /auth/verify (§6.1).
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalidToken"))
		return
	}
	writeJSON(w, http.StatusOK, identity)
}
