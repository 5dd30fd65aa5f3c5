package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ericyarmo/buds-relay/pkg/relay/models"
	"github.com/ericyarmo/buds-relay/pkg/validate"
)

const saltBytes = 32

// GetOrCreateSalt returns the account salt for a phone, minting and
// persisting a fresh 32-byte random salt on first contact. Concurrent
// first-time callers all observe the same winning salt.
func (s *Service) GetOrCreateSalt(ctx context.Context, phone string) (salt string, created bool, err error) {
	if !validate.IsPhone(phone) {
		return "", false, invalid("phone", "must be E.164")
	}

	candidate := make([]byte, saltBytes)
	if _, err := rand.Read(candidate); err != nil {
		return "", false, fmt.Errorf("failed to generate salt: %w", err)
	}

	return s.store.GetOrCreateAccountSalt(ctx,
		s.phones.Encrypt(phone),
		base64.StdEncoding.EncodeToString(candidate),
		s.now())
}

// RegisterDeviceRequest carries the register/re-register inputs.
type RegisterDeviceRequest struct {
	DeviceID      string  `json:"device_id"`
	DeviceName    string  `json:"device_name"`
	OwnerDID      string  `json:"owner_did"`
	Phone         string  `json:"phone"`
	PubkeyX25519  string  `json:"pubkey_x25519"`
	PubkeyEd25519 string  `json:"pubkey_ed25519"`
	PushToken     *string `json:"push_token,omitempty"`
}

func (r *RegisterDeviceRequest) validate() error {
	var fields []FieldError
	if !validate.IsUUID(r.DeviceID) {
		fields = append(fields, FieldError{Field: "device_id", Message: "must be a UUIDv4"})
	}
	if !validate.IsDID(r.OwnerDID) {
		fields = append(fields, FieldError{Field: "owner_did", Message: "must be a valid DID"})
	}
	if !validate.IsPhone(r.Phone) {
		fields = append(fields, FieldError{Field: "phone", Message: "must be E.164"})
	}
	if !validate.IsBase64(r.PubkeyX25519) {
		fields = append(fields, FieldError{Field: "pubkey_x25519", Message: "must be base64"})
	}
	if !validate.IsBase64(r.PubkeyEd25519) {
		fields = append(fields, FieldError{Field: "pubkey_ed25519", Message: "must be base64"})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// RegisterDevice registers a device or refreshes an existing one. The
// caller's authenticated phone must match the request phone. New devices
// count against the per-DID active device cap; re-registrations do not.
func (s *Service) RegisterDevice(ctx context.Context, callerPhone string, req *RegisterDeviceRequest) (*models.Device, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Phone != callerPhone {
		return nil, ErrPhoneMismatch
	}

	encryptedPhone := s.phones.Encrypt(req.Phone)
	now := s.now()

	_, err := s.store.GetDevice(ctx, req.DeviceID)
	switch {
	case errors.Is(err, models.ErrDeviceNotFound):
		n, err := s.store.CountActiveDevices(ctx, req.OwnerDID)
		if err != nil {
			return nil, err
		}
		if n >= MaxActiveDevices {
			return nil, models.ErrDeviceLimit
		}
	case err != nil:
		return nil, err
	}

	if err := s.store.UpsertPhoneMapping(ctx, encryptedPhone, req.OwnerDID, now); err != nil {
		return nil, err
	}

	device := &models.Device{
		DeviceID:            req.DeviceID,
		OwnerDID:            req.OwnerDID,
		OwnerEncryptedPhone: encryptedPhone,
		DeviceName:          req.DeviceName,
		PubkeyX25519:        req.PubkeyX25519,
		PubkeyEd25519:       req.PubkeyEd25519,
		PushToken:           req.PushToken,
		Status:              models.DeviceActive,
		RegisteredAt:        now,
		LastSeenAt:          now,
	}
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return nil, err
	}
	return s.store.GetDevice(ctx, req.DeviceID)
}

// Heartbeat bumps last_seen_at on an active device.
func (s *Service) Heartbeat(ctx context.Context, deviceID string) error {
	if !validate.IsUUID(deviceID) {
		return invalid("device_id", "must be a UUIDv4")
	}
	return s.store.Heartbeat(ctx, deviceID, s.now())
}

// LookupDID resolves a phone to its DID.
func (s *Service) LookupDID(ctx context.Context, phone string) (string, error) {
	if !validate.IsPhone(phone) {
		return "", invalid("phone", "must be E.164")
	}
	return s.store.LookupDID(ctx, s.phones.Encrypt(phone))
}

// BatchLookupDID resolves up to MaxRecipients phones to DIDs. Unknown
// phones are absent from the result.
func (s *Service) BatchLookupDID(ctx context.Context, phones []string) (map[string]string, error) {
	if len(phones) == 0 {
		return nil, invalid("phones", "must not be empty")
	}
	if len(phones) > MaxRecipients {
		return nil, invalid("phones", fmt.Sprintf("at most %d phones per batch", MaxRecipients))
	}

	encrypted := make([]string, len(phones))
	byEncrypted := make(map[string]string, len(phones))
	for i, phone := range phones {
		if !validate.IsPhone(phone) {
			return nil, invalid(fmt.Sprintf("phones[%d]", i), "must be E.164")
		}
		enc := s.phones.Encrypt(phone)
		encrypted[i] = enc
		byEncrypted[enc] = phone
	}

	found, err := s.store.BatchLookupDID(ctx, encrypted)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(found))
	for enc, did := range found {
		out[byEncrypted[enc]] = did
	}
	return out, nil
}

// ListDevices returns the active devices of up to MaxRecipients DIDs,
// for the recipient key-discovery flow.
func (s *Service) ListDevices(ctx context.Context, dids []string) ([]*models.Device, error) {
	if len(dids) == 0 {
		return nil, invalid("dids", "must not be empty")
	}
	if len(dids) > MaxRecipients {
		return nil, invalid("dids", fmt.Sprintf("at most %d DIDs per request", MaxRecipients))
	}
	for i, did := range dids {
		if !validate.IsDID(did) {
			return nil, invalid(fmt.Sprintf("dids[%d]", i), "must be a valid DID")
		}
	}
	return s.store.ListDevicesByDIDs(ctx, dids)
}
