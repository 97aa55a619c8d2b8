package api

import (
	"io"
	"net/http"

	"github.com/nerrad567/cdp-core/internal/control"
)

// Control endpoint constants.
const (
	// HeaderCommand carries the command name or numeric code.
	HeaderCommand = "X-CDP-Command"

	sourceRaw = "raw"
)

// handleControl runs one raw command. The body is the 56-byte parameter
// record; an empty body is passed to the dispatcher as a missing buffer.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	code, err := control.ParseCommand(r.Header.Get(HeaderCommand))
	if err != nil {
		writeControlError(w, err)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}
	if len(raw) == 0 {
		raw = nil
	}

	res, err := s.dispatcher.Dispatch(r.Context(), callerFromRequest(r, sourceRaw), code, raw)
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
