package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/cdp-core/internal/audit"
	"github.com/nerrad567/cdp-core/internal/inventory"
)

// handleListAudit returns dispatch audit entries, newest first.
//
// Query parameters: command, caller, target, failed (bool), limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Command:  q.Get("command"),
		CallerID: q.Get("caller"),
		Target:   q.Get("target"),
	}
	var err error
	if filter.Failed, err = queryBool(q.Get("failed")); err != nil {
		writeBadRequest(w, "failed must be a boolean")
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListInventory returns published device rows, newest first.
//
// Query parameters: status, name, limit.
func (s *Server) handleListInventory(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "inventory not configured")
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	records, err := s.inventory.List(r.Context(), inventory.Filter{
		Status: q.Get("status"),
		Name:   q.Get("name"),
		Limit:  limit,
	})
	if err != nil {
		s.logger.Error("listing inventory", "error", err)
		writeInternalError(w, "failed to list inventory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
		"run_id":  s.inventory.RunID(),
	})
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func queryBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
