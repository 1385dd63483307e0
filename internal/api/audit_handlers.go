package api

import (
	"net/http"
	"strconv"
	"time"

	"grimm.is/vpnadmin/internal/audit"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// handleAudit serves the audit trail, newest first.
// Query: limit, action, actor, since (RFC3339).
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		WriteError(w, http.StatusNotFound, "Audit trail is not enabled")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Action: q.Get("action"),
		Actor:  q.Get("actor"),
		Limit:  defaultAuditLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxAuditLimit)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp", err.Error())
			return
		}
		f.Since = t
	}

	events, err := s.audit.Query(f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	WriteJSON(w, http.StatusOK, events)
}
