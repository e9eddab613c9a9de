package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mbocsi/pixtouch/app"
	"github.com/mbocsi/pixtouch/proto"
)

const maxBodySize = 1 << 20

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Connect(r.Context()); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.coord.Disconnect()
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) HandleSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.coord.Slots(chi.URLParam(r, "group"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

func (s *Server) HandleSlot(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	slot, err := s.coord.Slot(chi.URLParam(r, "group"), index)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// HandleBind binds the mapping in the body. An empty body or null unbinds.
func (s *Server) HandleBind(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.handleError(w, err)
		return
	}

	var mapping *proto.ControlMapping
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && string(trimmed) != "null" {
		mapping = &proto.ControlMapping{DisplayFormat: proto.DefaultDisplayFormat, SyncEnabled: true}
		if err := json.Unmarshal(trimmed, mapping); err != nil {
			s.handleError(w, invalidInput("invalid mapping JSON", err))
			return
		}
	}

	slot, err := s.coord.BindSlot(chi.URLParam(r, "group"), index, mapping)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) HandleDelta(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	if group := chi.URLParam(r, "group"); group != "encoder" && group != "encoders" {
		s.handleError(w, app.ServiceError{Code: app.ErrCodeInvalidInput, Message: "delta applies to encoders only"})
		return
	}

	var req struct {
		Delta    int  `json:"delta"`
		FineMode bool `json:"fine_mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	slot, err := s.coord.NudgeEncoder(index, req.Delta, req.FineMode)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) HandleValue(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	if group := chi.URLParam(r, "group"); group != "fader" && group != "faders" {
		s.handleError(w, app.ServiceError{Code: app.ErrCodeInvalidInput, Message: "absolute values apply to faders only"})
		return
	}

	var req struct {
		Value *float64 `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.handleError(w, err)
		return
	}
	if req.Value == nil {
		s.handleError(w, app.ServiceError{Code: app.ErrCodeInvalidInput, Message: "value is required"})
		return
	}

	slot, err := s.coord.SetFader(index, *req.Value)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) HandleReset(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	slot, err := s.coord.ResetSlot(chi.URLParam(r, "group"), index)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// HandleInvoke forwards {"method": ..., "params": ...} to the media server.
func (s *Server) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	result, err := s.coord.Invoke(r.Context(), req.Method, req.Params)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"result": result})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.handleError(w, invalidInput("index must be an integer", err))
		return 0, false
	}
	return index, true
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		return invalidInput("invalid request body", err)
	}
	return nil
}

func invalidInput(message string, err error) error {
	return app.ServiceError{Code: app.ErrCodeInvalidInput, Message: message, Cause: err}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// handleError maps service errors to HTTP status codes.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	var serviceErr app.ServiceError
	if !errors.As(err, &serviceErr) {
		slog.Error("Unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, app.ServiceError{Code: app.ErrCodeInternal, Message: "internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch serviceErr.Code {
	case app.ErrCodeNotFound:
		status = http.StatusNotFound
	case app.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case app.ErrCodeConflict:
		status = http.StatusConflict
	case app.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	case app.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case app.ErrCodeRemote:
		status = http.StatusBadGateway
	}
	if status >= 500 {
		slog.Warn("Request failed", "code", serviceErr.Code, "error", err)
	} else {
		slog.Debug("Request rejected", "code", serviceErr.Code, "error", err)
	}

	writeJSON(w, status, struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{serviceErr.Code, serviceErr.Error()})
}
