package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-myq/internal/audit"
	"github.com/nerrad567/gray-logic-myq/internal/bridges/myqbridge"
	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
)

// deviceView is a paired device with its cached state.
type deviceView struct {
	device.Device
	State *myqbridge.StateMessage `json:"state,omitempty"`
}

// pairRequest is the body for POST /devices.
type pairRequest struct {
	SerialNumber string   `json:"serial_number"`
	Kind         myq.Kind `json:"kind"`
	Name         string   `json:"name"`
}

// commandRequest is the body for POST /devices/{serial}/commands.
type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) view(d device.Device) deviceView {
	v := deviceView{Device: d}
	if state, err := s.bridge.DeviceState(d.SerialNumber); err == nil {
		v.State = &state
	}
	return v
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.ListDevices()
	if kind := myq.Kind(r.URL.Query().Get("kind")); kind != "" {
		if !kind.Valid() {
			writeBadRequest(w, "unknown kind: "+string(kind))
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.Kind == kind {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.view(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetDevice(chi.URLParam(r, "serial"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to read device")
		return
	}
	writeJSON(w, http.StatusOK, s.view(d))
}

// handleListPairable lists the account's devices that can be paired as kind.
func (s *Server) handleListPairable(w http.ResponseWriter, r *http.Request) {
	kind := myq.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeBadRequest(w, "unknown kind: "+string(kind))
		return
	}

	candidates, err := s.bridge.ListPairable(r.Context(), kind)
	if err != nil {
		s.writeBridgeError(w, err, "failed to list myQ devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":    kind,
		"devices": candidates,
	})
}

func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.SerialNumber = strings.TrimSpace(req.SerialNumber)
	if req.SerialNumber == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "serial_number is required")
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unknown kind: "+string(req.Kind))
		return
	}

	d, err := s.bridge.PairDevice(r.Context(), req.SerialNumber, req.Kind, strings.TrimSpace(req.Name))
	if err != nil {
		s.writeBridgeError(w, err, "failed to pair device")
		return
	}

	s.logger.Info("device paired", "serial", d.SerialNumber, "kind", d.Kind)
	s.record(r, audit.ActionPair, d.SerialNumber, map[string]any{"kind": d.Kind, "name": d.Name})
	writeJSON(w, http.StatusCreated, s.view(*d))
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if err := s.bridge.RemoveDevice(r.Context(), serial); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("removing device", "serial", serial, "error", err)
		writeInternalError(w, "failed to remove device")
		return
	}

	s.logger.Info("device removed", "serial", serial)
	s.record(r, audit.ActionRemove, serial, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSendCommand sends open/close or on/off to a paired device. It
// returns once the cloud accepts the command; the state follows through
// active polling.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cmd, err := myq.ParseCommand(req.Command)
	if err != nil {
		writeBadRequest(w, "unknown command: "+req.Command)
		return
	}

	if err := s.bridge.SendCommand(r.Context(), serial, cmd); err != nil {
		s.writeBridgeError(w, err, commandMessage(err))
		return
	}

	s.record(r, audit.ActionCommand, serial, map[string]any{"command": cmd})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"device_id": serial,
		"command":   cmd,
	})
}

// commandMessage is the caller-facing text for a failed command.
func commandMessage(err error) string {
	var cmdErr *myq.CommandFailedError
	if errors.As(err, &cmdErr) {
		return cmdErr.Error()
	}
	return "command failed, please try again"
}
