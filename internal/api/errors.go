package api

import (
	"encoding/json"
	"net/http"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/cdp-core/internal/control"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Errno   string `json:"errno,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeGone         = "gone"
	ErrCodeExhausted    = "resource_exhausted"
	ErrCodeTimeout      = "timeout"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
)

// errnoStatus maps a dispatch errno to an HTTP status and error code.
// Unlisted errnos are internal errors.
var errnoStatus = map[unix.Errno]struct {
	status int
	code   string
}{
	unix.EPERM:     {http.StatusForbidden, ErrCodeForbidden},
	unix.ENOTTY:    {http.StatusBadRequest, ErrCodeBadRequest},
	unix.ENOSYS:    {http.StatusBadRequest, ErrCodeBadRequest},
	unix.EFAULT:    {http.StatusBadRequest, ErrCodeBadRequest},
	unix.EINVAL:    {http.StatusBadRequest, ErrCodeBadRequest},
	unix.EEXIST:    {http.StatusConflict, ErrCodeConflict},
	unix.ENOENT:    {http.StatusNotFound, ErrCodeNotFound},
	unix.EBUSY:     {http.StatusConflict, ErrCodeConflict},
	unix.ESTALE:    {http.StatusConflict, ErrCodeConflict},
	unix.EBADF:     {http.StatusConflict, ErrCodeConflict},
	unix.ENODEV:    {http.StatusGone, ErrCodeGone},
	unix.ENOSPC:    {http.StatusServiceUnavailable, ErrCodeExhausted},
	unix.ENOMEM:    {http.StatusServiceUnavailable, ErrCodeExhausted},
	unix.ETIMEDOUT: {http.StatusGatewayTimeout, ErrCodeTimeout},
	unix.ESHUTDOWN: {http.StatusServiceUnavailable, ErrCodeUnavailable},
	unix.ECANCELED: {http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// controlError builds the response for a failed dispatch or device call.
func controlError(err error) Error {
	errno := control.Errno(err)
	st, ok := errnoStatus[errno]
	if !ok {
		st.status, st.code = http.StatusInternalServerError, ErrCodeInternal
	}
	return Error{
		Status:  st.status,
		Code:    st.code,
		Message: err.Error(),
		Errno:   unix.ErrnoName(errno),
	}
}

// writeControlError writes err with its errno and derived status.
func writeControlError(w http.ResponseWriter, err error) {
	e := controlError(err)
	writeJSON(w, e.Status, e)
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
