package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ericyarmo/buds-relay/internal/logger"
	"github.com/ericyarmo/buds-relay/internal/metrics"
	"github.com/ericyarmo/buds-relay/pkg/blob"
	"github.com/ericyarmo/buds-relay/pkg/push"
	"github.com/ericyarmo/buds-relay/pkg/relay/models"
	"github.com/ericyarmo/buds-relay/pkg/validate"
)

// Inbox paging bounds.
const (
	DefaultInboxLimit = 50
	MaxInboxLimit     = 100
)

// pushTimeout bounds the detached fan-out; it must not inherit the
// request context, which dies when the response is written.
const pushTimeout = 10 * time.Second

// SendMessageRequest carries the message ingest inputs. The payload is
// opaque ciphertext; the relay never decrypts it.
type SendMessageRequest struct {
	MessageID        string            `json:"message_id"`
	ReceiptCID       string            `json:"receipt_cid"`
	SenderDID        string            `json:"sender_did"`
	SenderDeviceID   string            `json:"sender_device_id"`
	RecipientDIDs    []string          `json:"recipient_dids"`
	EncryptedPayload string            `json:"encrypted_payload"`
	WrappedKeys      map[string]string `json:"wrapped_keys"`
	Signature        string            `json:"signature"`
}

func (r *SendMessageRequest) validate() error {
	if len(r.RecipientDIDs) > MaxRecipients {
		return ErrRecipientLimit
	}

	var fields []FieldError
	if !validate.IsUUID(r.MessageID) {
		fields = append(fields, FieldError{Field: "message_id", Message: "must be a UUIDv4"})
	}
	if r.ReceiptCID != "" && !validate.IsCID(r.ReceiptCID) {
		fields = append(fields, FieldError{Field: "receipt_cid", Message: "must be a CIDv1"})
	}
	if !validate.IsDID(r.SenderDID) {
		fields = append(fields, FieldError{Field: "sender_did", Message: "must be a valid DID"})
	}
	if !validate.IsUUID(r.SenderDeviceID) {
		fields = append(fields, FieldError{Field: "sender_device_id", Message: "must be a UUIDv4"})
	}
	if len(r.RecipientDIDs) == 0 {
		fields = append(fields, FieldError{Field: "recipient_dids", Message: "must not be empty"})
	}
	for i, did := range r.RecipientDIDs {
		if !validate.IsDID(did) {
			fields = append(fields, FieldError{Field: fmt.Sprintf("recipient_dids[%d]", i), Message: "must be a valid DID"})
		}
	}
	if !validate.IsBase64(r.EncryptedPayload) {
		fields = append(fields, FieldError{Field: "encrypted_payload", Message: "must be non-empty base64"})
	}
	if !validate.IsSignature(r.Signature) {
		fields = append(fields, FieldError{Field: "signature", Message: "must be a base64 Ed25519 signature"})
	}
	for deviceID, key := range r.WrappedKeys {
		if !validate.IsBase64(key) {
			fields = append(fields, FieldError{Field: "wrapped_keys." + deviceID, Message: "must be base64"})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// SendMessage ingests a message: the ciphertext goes to the blob store
// first, then the metadata row and delivery rows, then a detached push
// fan-out. A visible row therefore always resolves to a blob; the
// converse (orphan blob after a failed insert) is swept by cleanup.
func (s *Service) SendMessage(ctx context.Context, req *SendMessageRequest) (*models.EncryptedMessage, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	device, err := s.store.GetDevice(ctx, req.SenderDeviceID)
	if err != nil {
		if errors.Is(err, models.ErrDeviceNotFound) {
			return nil, ErrSenderDevice
		}
		return nil, err
	}
	if !device.IsActive() || device.OwnerDID != req.SenderDID {
		return nil, ErrSenderDevice
	}

	exists, err := s.store.MessageExists(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, models.ErrDuplicateMessage
	}

	payload, err := validate.DecodeBase64(req.EncryptedPayload)
	if err != nil {
		return nil, invalid("encrypted_payload", "must be base64")
	}

	now := s.now()
	blobKey := blob.MessageKey(req.MessageID)
	err = s.blobs.Put(ctx, blobKey, payload, blob.Metadata{
		MessageID:  req.MessageID,
		ReceiptCID: req.ReceiptCID,
		SenderDID:  req.SenderDID,
		UploadedAt: strconv.FormatInt(now, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store payload: %w", err)
	}

	msg := &models.EncryptedMessage{
		MessageID:      req.MessageID,
		ReceiptCID:     req.ReceiptCID,
		SenderDID:      req.SenderDID,
		SenderDeviceID: req.SenderDeviceID,
		RecipientDIDs:  req.RecipientDIDs,
		WrappedKeys:    req.WrappedKeys,
		Signature:      req.Signature,
		BlobKey:        &blobKey,
		CreatedAt:      now,
		ExpiresAt:      now + models.MessageTTLMillis,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		// The blob stays: on a duplicate race it belongs to the winning
		// insert (same key, same content), otherwise cleanup sweeps it.
		return nil, err
	}

	metrics.MessagesSent.Inc()
	go s.pushFanout(msg.MessageID, req.RecipientDIDs)
	return msg, nil
}

// pushFanout wakes all active devices of the recipients. Runs detached
// from the request; failures are logged and never affect the send.
func (s *Service) pushFanout(messageID string, recipientDIDs []string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in push fan-out", "message_id", messageID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	devices, err := s.store.PushTargets(ctx, recipientDIDs)
	if err != nil {
		logger.Error("failed to resolve push targets", "message_id", messageID, "error", err)
		return
	}
	if len(devices) == 0 {
		return
	}

	targets := make([]push.Target, len(devices))
	for i, d := range devices {
		targets[i] = push.Target{DeviceID: d.DeviceID, Token: *d.PushToken}
	}

	gone := s.notifier.Notify(ctx, targets)
	metrics.PushesTotal.WithLabelValues("ok").Add(float64(len(targets) - len(gone)))
	for _, deviceID := range gone {
		metrics.PushesTotal.WithLabelValues("gone").Inc()
		if err := s.store.DeactivateDevice(ctx, deviceID); err != nil {
			logger.Error("failed to deactivate device with gone token",
				"device_id", deviceID, "error", err)
		}
	}
}

// InboxMessage is one inbox entry with the payload resolved to base64.
type InboxMessage struct {
	MessageID        string            `json:"message_id"`
	ReceiptCID       string            `json:"receipt_cid,omitempty"`
	SenderDID        string            `json:"sender_did"`
	SenderDeviceID   string            `json:"sender_device_id"`
	EncryptedPayload string            `json:"encrypted_payload"`
	WrappedKeys      map[string]string `json:"wrapped_keys"`
	Signature        string            `json:"signature"`
	CreatedAt        int64             `json:"created_at"`
	ExpiresAt        int64             `json:"expires_at"`
}

// Inbox returns unexpired messages for the DID with created_at > since,
// newest first. Blob-backed payloads are fetched and re-encoded as
// base64; legacy rows serve their inline payload. has_more is true iff
// the page is full.
func (s *Service) Inbox(ctx context.Context, did string, since int64, limit int) ([]*InboxMessage, bool, error) {
	if !validate.IsDID(did) {
		return nil, false, invalid("did", "must be a valid DID")
	}
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	if limit > MaxInboxLimit {
		limit = MaxInboxLimit
	}

	rows, err := s.store.Inbox(ctx, did, since, limit, s.now())
	if err != nil {
		return nil, false, err
	}

	out := make([]*InboxMessage, 0, len(rows))
	for _, row := range rows {
		payload, err := s.resolvePayload(ctx, row)
		if err != nil {
			logger.WarnCtx(ctx, "failed to resolve message payload, skipping",
				"message_id", row.MessageID, "error", err)
			continue
		}
		out = append(out, &InboxMessage{
			MessageID:        row.MessageID,
			ReceiptCID:       row.ReceiptCID,
			SenderDID:        row.SenderDID,
			SenderDeviceID:   row.SenderDeviceID,
			EncryptedPayload: payload,
			WrappedKeys:      row.WrappedKeys,
			Signature:        row.Signature,
			CreatedAt:        row.CreatedAt,
			ExpiresAt:        row.ExpiresAt,
		})
	}
	return out, len(rows) == limit, nil
}

// resolvePayload returns the base64 wire payload for a message row,
// fetching from the blob store when the row is blob-backed.
func (s *Service) resolvePayload(ctx context.Context, row *models.EncryptedMessage) (string, error) {
	if row.BlobKey != nil {
		data, err := s.blobs.Get(ctx, *row.BlobKey)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(data), nil
	}
	if row.EncryptedPayload != nil {
		return *row.EncryptedPayload, nil
	}
	return "", fmt.Errorf("message %s has neither blob key nor inline payload", row.MessageID)
}

// MarkDelivered acknowledges delivery of a message to the caller.
func (s *Service) MarkDelivered(ctx context.Context, did, messageID string) error {
	if !validate.IsUUID(messageID) {
		return invalid("message_id", "must be a UUIDv4")
	}
	return s.store.MarkDelivered(ctx, messageID, did, s.now())
}

// DeleteMessage removes a message, its blob and its delivery rows. Only
// the sender may delete a live message; after expiry anyone may.
func (s *Service) DeleteMessage(ctx context.Context, callerDID, messageID string) error {
	if !validate.IsUUID(messageID) {
		return invalid("message_id", "must be a UUIDv4")
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderDID != callerDID && msg.ExpiresAt >= s.now() {
		return ErrNotMessageSender
	}

	if msg.BlobKey != nil {
		if err := s.blobs.Delete(ctx, *msg.BlobKey); err != nil {
			logger.WarnCtx(ctx, "failed to delete message blob",
				"message_id", messageID, "error", err)
		}
	}
	return s.store.DeleteMessage(ctx, messageID)
}
