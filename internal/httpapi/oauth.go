package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/statehub-server/core/internal/oauth"
)

// handleGoogleDeviceStart implements GET /oauth/google/device: it begins
// the device authorization grant and hands the caller the user/device
// code pair to display.
func (s *Server) handleGoogleDeviceStart(w http.ResponseWriter, r *http.Request) {
	da, err := s.oauth.StartGoogleDeviceAuth(r.Context())
	if err != nil {
		s.log.Error("httpapi: start google device auth failed", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse("deviceAuthFailed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceCode":      da.DeviceCode,
		"userCode":        da.UserCode,
		"verificationUri": da.VerificationURI,
		"expiresIn":       int(time.Until(da.Expiry).Seconds()),
		"interval":        da.Interval,
	})
}

type devicePollRequest struct {
	DeviceCode string `json:"deviceCode"`
}

// handleGoogleDevicePoll implements POST /oauth/google/device/poll (§6.1):
// a single poll attempt per call, with the fixed provider-status → HTTP
// status mapping.
func (s *Server) handleGoogleDevicePoll(w http.ResponseWriter, r *http.Request) {
	var req devicePollRequest
	if err := decodeJSON(r, &req); err != nil || req.DeviceCode == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse(string(oauth.StatusInvalidDeviceCode)))
		return
	}

	session, err := s.oauth.PollGoogleDevice(r.Context(), req.DeviceCode, clientIP(r))
	if err != nil {
		var pollErr *oauth.PollError
		if errors.As(err, &pollErr) {
			writeJSON(w, pollErr.StatusCode, errorResponse(string(pollErr.Status)))
			return
		}
		s.log.Error("httpapi: poll google device failed", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse(string(oauth.StatusInvalidDeviceCode)))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"user": userWithToken{Identity: session.Identity, Token: session.Token},
	})
}

// handleWebAuthRedirect implements GET /oauth/{provider}/web: it redirects
// the browser to the provider's consent screen.
func (s *Server) handleWebAuthRedirect(p oauth.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := uuid.NewString()
		authURL, err := s.oauth.WebAuthURL(p, state)
		if err != nil {
			s.log.Error("httpapi: build oauth redirect failed", "provider", string(p), "error", err)
			writeJSON(w, http.StatusBadRequest, errorResponse("oauthUnavailable"))
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// handleWebAuthCallback implements GET /oauth/{provider}/web/callback: it
// exchanges the authorization code and mints a session exactly like a
// password login.
func (s *Server) handleWebAuthCallback(p oauth.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse("missingCode"))
			return
		}

		session, err := s.oauth.HandleWebCallback(r.Context(), p, code, clientIP(r))
		if err != nil {
			s.log.Error("httpapi: oauth callback failed", "provider", string(p), "error", err)
			writeJSON(w, http.StatusBadRequest, errorResponse("oauthExchangeFailed"))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ok":   true,
			"user": userWithToken{Identity: session.Identity, Token: session.Token},
		})
	}
}
