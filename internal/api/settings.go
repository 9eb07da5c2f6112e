package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-myq/internal/audit"
	"github.com/nerrad567/gray-logic-myq/internal/bridges/myqbridge"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

// refreshTokenRequest is the body for PUT /settings/refresh-token.
type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// statusResponse is the body for GET /status.
type statusResponse struct {
	Version          string                  `json:"version"`
	Bridge           myqbridge.Status        `json:"bridge"`
	Metrics          myqbridge.BridgeMetrics `json:"metrics"`
	WebSocketClients int                     `json:"websocket_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.bridge.Status(r.Context())
	if err != nil {
		s.logger.Error("reading bridge status", "error", err)
		writeInternalError(w, "failed to read status")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:          s.version,
		Bridge:           status,
		Metrics:          s.bridge.GetMetrics(),
		WebSocketClients: s.hub.ClientCount(),
	})
}

// handleSetRefreshToken configures the myQ account from a refresh token
// copied out of the app. The token is never echoed or logged.
func (s *Server) handleSetRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.bridge.ApplyRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		var authErr *myq.AuthError
		switch {
		case errors.Is(err, myqbridge.ErrEmptyRefreshToken):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "refresh_token is required")
		case errors.As(err, &authErr):
			writeError(w, http.StatusBadRequest, ErrCodeAuthFailed, "myQ rejected the refresh token")
		default:
			s.writeBridgeError(w, err, "failed to configure myQ")
		}
		return
	}

	status, err := s.bridge.Status(r.Context())
	if err != nil {
		s.logger.Error("reading bridge status", "error", err)
		writeInternalError(w, "failed to read status")
		return
	}
	s.logger.Info("myQ refresh token updated")
	s.record(r, audit.ActionConfigure, "", nil)
	writeJSON(w, http.StatusOK, status)
}
