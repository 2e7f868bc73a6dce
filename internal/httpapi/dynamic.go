package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/dispatch"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/router"
)

const (
	defaultInvokeTimeout   = 5 * time.Second
	multipartInvokeTimeout = 30 * time.Second
)

// handleDynamic implements the dynamic module dispatch path (§4.4/§4.5/
// §4.6): resolve the module from the URL, match the remainder against its
// registered routes, select an instance, and wait for a reply.
func (s *Server) handleDynamic(w http.ResponseWriter, r *http.Request) {
	moduleName, remainder, ok := router.ModuleNameFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	match, ok := s.reg.Match(moduleName, r.Method, remainder)
	if !ok {
		http.NotFound(w, r)
		return
	}

	identity, authed := auth.IdentityFromContext(r.Context())
	if match.Entry.RequiresAuth && !authed {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalidBody"))
		return
	}

	var userRaw json.RawMessage
	if authed {
		if raw, err := json.Marshal(identity); err == nil {
			userRaw = raw
		}
	}

	// Shard key priority (§4.5): the authenticated user's id, then the
	// x-shard-key header, then none.
	shardKey := ""
	if authed {
		shardKey = identity.UserID
	}
	if shardKey == "" {
		shardKey = r.Header.Get("x-shard-key")
	}

	payload := ipcHTTPPayload(r, match.Params, body, userRaw)
	timeout := defaultInvokeTimeout
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		timeout = multipartInvokeTimeout
	}

	result, err := dispatch.Call(s.sup, s.bal, s.corr, moduleName, shardKey, match.Entry.HandlerID, payload, timeout)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoInstance) {
			writeJSON(w, http.StatusServiceUnavailable, noLiveInstanceResponse(moduleName))
			return
		}
		s.log.Error("httpapi: dispatch failed", "module", moduleName, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("dispatchFailed"))
		return
	}
	if result.Err != nil {
		if errors.Is(result.Err, correlator.ErrTimeout) {
			writeJSON(w, http.StatusGatewayTimeout, errorResponse("timeout"))
			return
		}
		writeJSON(w, http.StatusBadGateway, errorResponse("moduleError"))
		return
	}

	status := result.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(result.Payload)
}

// ipcHTTPPayload builds the invoke payload §4.4 hands across C3: query
// and header values are flattened to their first occurrence, matching
// the single-valued shape a module handler expects.
func ipcHTTPPayload(r *http.Request, params map[string]string, body []byte, user json.RawMessage) ipc.InvokeHTTPPayload {
	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	var rawBody json.RawMessage
	if len(body) > 0 {
		rawBody = body
	}

	return ipc.InvokeHTTPPayload{
		Query:   query,
		Params:  params,
		Body:    rawBody,
		Headers: headers,
		User:    user,
	}
}
