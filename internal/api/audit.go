package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/audit"
)

// auditTimeout bounds an audit write so a slow database never holds up
// the response.
const auditTimeout = 2 * time.Second

// record writes an audit entry for the caller. Failures are logged only.
func (s *Server) record(r *http.Request, action, deviceID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := &audit.Entry{
		Action:   action,
		DeviceID: deviceID,
		Source:   "api",
		Details:  details,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		e.Subject = claims.Subject
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
	defer cancel()
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Warn("writing audit entry", "action", action, "device_id", deviceID, "error", err)
	}
}

// handleListAudit returns audit entries, newest first. Query parameters:
// action, device_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, audit.ListResult{Entries: []audit.Entry{}, Limit: audit.DefaultLimit})
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
