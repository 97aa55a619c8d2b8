package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/cdp-core/internal/control"
	"github.com/nerrad567/cdp-core/internal/device"
)

// sourceREST tags dispatches issued through the device endpoints.
const sourceREST = "rest"

// createDeviceRequest is the body of POST /devices. Store numbers are
// written "major:minor".
type createDeviceRequest struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Repository string `json:"repository"`
	Metadata   string `json:"metadata"`
}

// record converts the request to a parameter record.
func (req createDeviceRequest) record() (control.Record, error) {
	rec := control.Record{Name: req.Name}
	for _, f := range []struct {
		field string
		value string
		dst   *control.Pair
	}{
		{"host", req.Host, &rec.Host},
		{"repository", req.Repository, &rec.Repository},
		{"metadata", req.Metadata, &rec.Metadata},
	} {
		n, err := device.ParseDevNum(f.value)
		if err != nil {
			return control.Record{}, fmt.Errorf("%w: %s: %w", control.ErrInvalidArgument, f.field, err)
		}
		*f.dst = control.Pair{Major: int32(n.Major), Minor: int32(n.Minor)} //nolint:gosec // out-of-range values are rejected by the dispatcher
	}
	return rec, nil
}

// handleListDevices returns every live device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.devices.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device by name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	info, err := s.devices.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleCreateDevice issues DEV_CREATE for a JSON request.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rec, err := req.record()
	if err != nil {
		writeControlError(w, err)
		return
	}

	res, err := s.dispatchRecord(r, control.CmdDevCreate, rec)
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Device)
}

// handleRemoveDevice issues DEV_REMOVE for the named device.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	res, err := s.dispatchRecord(r, control.CmdDevRemove, control.Record{Name: chi.URLParam(r, "name")})
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Device)
}

// handleOpenDevice records an external open of the named device.
func (s *Server) handleOpenDevice(w http.ResponseWriter, r *http.Request) {
	s.openClose(w, r, s.devices.OpenHandle)
}

// handleCloseDevice records an external close of the named device.
func (s *Server) handleCloseDevice(w http.ResponseWriter, r *http.Request) {
	s.openClose(w, r, s.devices.CloseHandle)
}

// openClose applies op to the incarnation the name resolved to, so a device
// removed and recreated in between is reported as stale.
func (s *Server) openClose(w http.ResponseWriter, r *http.Request, op func(context.Context, device.Handle) error) {
	name := chi.URLParam(r, "name")
	info, err := s.devices.Lookup(name)
	if err != nil {
		writeControlError(w, err)
		return
	}
	if err := op(r.Context(), info.Handle()); err != nil {
		writeControlError(w, err)
		return
	}
	if fresh, err := s.devices.Lookup(name); err == nil {
		info = fresh
	}
	writeJSON(w, http.StatusOK, info)
}

// dispatchRecord encodes rec and runs it through the dispatcher on behalf
// of the request's caller.
func (s *Server) dispatchRecord(r *http.Request, code control.Code, rec control.Record) (control.Result, error) {
	raw, err := rec.MarshalBinary()
	if err != nil {
		return control.Result{}, err
	}
	return s.dispatcher.Dispatch(r.Context(), callerFromRequest(r, sourceREST), code, raw)
}

// handleStats returns lifecycle and dispatcher counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"lifecycle":      s.devices.Stats(),
		"dispatcher":     s.dispatcher.Stats(),
		"session_active": s.sessionActive(),
	})
}
