package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/knxnetip/internal/bridge"
	"github.com/nerrad567/knxnetip/internal/knx/address"
)

// commandSource tags commands issued through the API.
const commandSource = "api"

// writeRequest is the body of POST /groups/{ga}/write. Data (hex) wins over
// Value; Value needs a DPT here or in bridge.dpts.
type writeRequest struct {
	ID       string `json:"id,omitempty"`
	Data     string `json:"data,omitempty"`
	Appended bool   `json:"appended,omitempty"`
	Value    any    `json:"value,omitempty"`
	DPT      string `json:"dpt,omitempty"`
	Respond  bool   `json:"respond,omitempty"`
}

// handleListGroups returns every group address the recorder has seen.
//
// GET /groups
// Response: {"groups": [...], "count": N}
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeUnavailable(w, "recorder is not enabled")
		return
	}
	groups, err := s.recorder.GroupAddresses(r.Context())
	if err != nil {
		s.logger.Error("failed to list group addresses", "error", err)
		writeInternalError(w, "failed to list group addresses")
		return
	}
	if groups == nil {
		groups = []bridge.GroupRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

// handleGetGroup returns one recorded group address.
//
// GET /groups/{ga}
// Response: bridge.GroupRecord
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeUnavailable(w, "recorder is not enabled")
		return
	}
	ga, ok := groupParam(w, r)
	if !ok {
		return
	}

	group, err := s.recorder.GroupAddress(r.Context(), ga.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeNotFound(w, "group address has not been seen")
			return
		}
		s.logger.Error("failed to get group address", "address", ga.String(), "error", err)
		writeInternalError(w, "failed to get group address")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// handleListDevices returns every device the recorder has seen as a source.
//
// GET /devices
// Response: {"devices": [...], "count": N}
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeUnavailable(w, "recorder is not enabled")
		return
	}
	devices, err := s.recorder.Devices(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []bridge.DeviceRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGroupWrite sends GroupValue_Write (or GroupValue_Response when
// respond is set) to a group address.
//
// POST /groups/{ga}/write
// Body: {"data": "0c1a"} or {"value": 21.5, "dpt": "9.001"}
// Response: bridge.AckMessage
func (s *Server) handleGroupWrite(w http.ResponseWriter, r *http.Request) {
	ga, ok := groupParam(w, r)
	if !ok {
		return
	}

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	action := bridge.ActionWrite
	if req.Respond {
		action = bridge.ActionRespond
	}
	s.runCommand(w, r, bridge.CommandMessage{
		ID:       req.ID,
		Action:   action,
		Data:     req.Data,
		Appended: req.Appended,
		Value:    req.Value,
		DPT:      req.DPT,
	}, ga)
}

// handleGroupRead sends GroupValue_Read and returns the response. An
// optional body {"dpt": "..."} decodes the value.
//
// POST /groups/{ga}/read
// Response: bridge.AckMessage with data and value
func (s *Server) handleGroupRead(w http.ResponseWriter, r *http.Request) {
	ga, ok := groupParam(w, r)
	if !ok {
		return
	}

	var req struct {
		DPT string `json:"dpt,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.runCommand(w, r, bridge.CommandMessage{Action: bridge.ActionRead, DPT: req.DPT}, ga)
}

// runCommand executes cmd against ga and writes the ack with a status code
// derived from it.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, cmd bridge.CommandMessage, ga address.Address) {
	cmd.Source = commandSource
	if sub := subjectFrom(r.Context()); sub != "" {
		cmd.Source = commandSource + ":" + sub
	}

	ack := s.exec.Execute(r.Context(), cmd, ga.String())
	if ack.Error != nil {
		s.logger.Warn("api command failed",
			"command_id", ack.CommandID,
			"address", ack.Address,
			"code", ack.Error.Code,
			"request_id", r.Context().Value(ctxKeyRequestID))
	}
	writeJSON(w, ackHTTPStatus(ack), ack)
}

// ackHTTPStatus maps an ack to an HTTP status code.
func ackHTTPStatus(ack bridge.AckMessage) int {
	if ack.Error == nil {
		return http.StatusOK
	}
	switch ack.Error.Code {
	case bridge.ErrCodeInvalidCommand, bridge.ErrCodeInvalidParameters:
		return http.StatusBadRequest
	case bridge.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case bridge.ErrCodeNotConnected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// groupParam parses the {ga} path parameter. Slashes arrive escaped
// ("1%2F2%2F3"). It writes a 400 and returns false when the parameter is
// not a group address.
func groupParam(w http.ResponseWriter, r *http.Request) (address.Address, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "ga"))
	if err != nil {
		writeBadRequest(w, "invalid group address escape")
		return address.Address{}, false
	}
	ga, err := address.ParseAny(raw)
	if err != nil || !ga.IsGroup() {
		writeBadRequest(w, "invalid group address: "+raw)
		return address.Address{}, false
	}
	return ga, true
}
