package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericyarmo/buds-relay/pkg/relay/service"
)

// Handlers holds the HTTP handlers for the relay API. All business
// rules live in the service; handlers only decode, dispatch and encode.
type Handlers struct {
	svc *service.Service
}

// NewHandlers creates the handler set.
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{svc: svc}
}

// decodeJSONBody decodes a JSON request body into v. Returns false after
// writing a VALIDATION_ERROR response when decoding fails.
func (h *Handlers) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, CodeValidation, "invalid request body", nil)
		return false
	}
	return true
}

// callerDID resolves the authenticated phone to its DID. Returns false
// after writing the error when no mapping exists (the caller has not
// registered a device yet).
func (h *Handlers) callerDID(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := principalFrom(r.Context())
	did, err := h.svc.LookupDID(r.Context(), p.Phone)
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	return did, true
}

// Health reports liveness, pinging the database.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// Salt returns the caller's account salt, minting one on first contact.
// 201 on creation, 200 thereafter.
func (h *Handlers) Salt(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	salt, created, err := h.svc.GetOrCreateSalt(r.Context(), p.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"salt":    salt,
		"created": created,
	})
}

// RegisterDevice registers or refreshes a device.
func (h *Handlers) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterDeviceRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	p := principalFrom(r.Context())
	device, err := h.svc.RegisterDevice(r.Context(), p.Phone, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

// ListDevices returns active devices for up to 12 DIDs.
func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DIDs []string `json:"dids"`
	}
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	devices, err := h.svc.ListDevices(r.Context(), req.DIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// Heartbeat bumps a device's last_seen_at.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.Heartbeat(r.Context(), req.DeviceID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LookupDID resolves one phone to a DID.
func (h *Handlers) LookupDID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	did, err := h.svc.LookupDID(r.Context(), req.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"did": did})
}

// BatchLookupDID resolves up to 12 phones; unknown phones are absent
// from the result.
func (h *Handlers) BatchLookupDID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phones []string `json:"phones"`
	}
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	dids, err := h.svc.BatchLookupDID(r.Context(), req.Phones)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dids": dids})
}
