package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ericyarmo/buds-relay/internal/logger"
	"github.com/ericyarmo/buds-relay/internal/metrics"
	"github.com/ericyarmo/buds-relay/pkg/cid"
	"github.com/ericyarmo/buds-relay/pkg/receipt"
	"github.com/ericyarmo/buds-relay/pkg/relay/models"
	"github.com/ericyarmo/buds-relay/pkg/validate"
)

// Backfill paging bounds.
const (
	DefaultBackfillLimit = 500
	MaxBackfillLimit     = 1000
)

// StoreReceiptRequest carries a receipt append. ReceiptData and
// Signature are raw bytes; base64 is a transport concern handled by the
// API layer. ClaimedCID, when present, must match the computed CID.
type StoreReceiptRequest struct {
	JarID       string
	ReceiptData []byte
	Signature   []byte
	ClaimedCID  string
}

// ReceiptResult is the outcome of a receipt append.
type ReceiptResult struct {
	ReceiptCID     string `json:"receipt_cid"`
	SequenceNumber int64  `json:"sequence_number"`
}

// StoreReceipt appends a signed receipt to a jar's log and returns its
// relay-assigned sequence number. The pipeline, in order: parse the
// envelope, compute and check the CID, short-circuit on a known CID
// (idempotency), verify the Ed25519 signature with the sender's newest
// active device key, authorize (active member, or genesis on an empty
// jar), then insert with race-safe sequence assignment and materialize
// membership. Materialization failures never roll back the receipt.
func (s *Service) StoreReceipt(ctx context.Context, req *StoreReceiptRequest) (*ReceiptResult, error) {
	if req.JarID == "" {
		return nil, invalid("jar_id", "must not be empty")
	}
	if len(req.ReceiptData) == 0 {
		return nil, invalid("receipt_data", "must not be empty")
	}
	if len(req.Signature) != ed25519.SignatureSize {
		return nil, invalid("signature", "must be 64 bytes")
	}

	senderDID, err := receipt.ExtractSenderDID(req.ReceiptData)
	if err != nil {
		return nil, invalid("receipt_data", err.Error())
	}

	receiptCID := cid.Compute(req.ReceiptData)
	if req.ClaimedCID != "" && req.ClaimedCID != receiptCID {
		return nil, invalid("receipt_cid", "does not match the receipt bytes")
	}

	// Retried submissions are safe: a known CID returns the stored
	// sequence without touching the log.
	existing, err := s.store.GetReceiptByCID(ctx, receiptCID)
	if err == nil {
		return &ReceiptResult{ReceiptCID: receiptCID, SequenceNumber: existing.SequenceNumber}, nil
	}
	if !errors.Is(err, models.ErrReceiptNotFound) {
		return nil, err
	}

	if err := s.verifyReceiptSignature(ctx, senderDID, req.ReceiptData, req.Signature); err != nil {
		return nil, err
	}

	env, err := receipt.Decode(req.ReceiptData)
	if err != nil {
		return nil, invalid("receipt_data", err.Error())
	}

	if err := s.authorizeReceipt(ctx, req.JarID, senderDID, env.ReceiptType); err != nil {
		return nil, err
	}

	if env.ParentCID != "" {
		known, err := s.store.ReceiptExists(ctx, env.ParentCID)
		if err != nil {
			return nil, err
		}
		if !known {
			logger.WarnCtx(ctx, "receipt references unknown parent",
				"jar_id", req.JarID, "parent_cid", env.ParentCID)
		}
	}

	row := &models.JarReceipt{
		ReceiptCID:  receiptCID,
		JarID:       req.JarID,
		ReceiptData: req.ReceiptData,
		Signature:   req.Signature,
		SenderDID:   senderDID,
		ReceivedAt:  s.now(),
	}
	if env.ParentCID != "" {
		row.ParentCID = &env.ParentCID
	}

	seq, err := s.store.AppendReceipt(ctx, row)
	if err != nil {
		return nil, err
	}
	metrics.ReceiptsStored.Inc()

	if err := s.materialize(ctx, req.JarID, receiptCID, env); err != nil {
		logger.ErrorCtx(ctx, "failed to materialize receipt, log remains authoritative",
			"jar_id", req.JarID, "receipt_cid", receiptCID, "error", err)
	}

	return &ReceiptResult{ReceiptCID: receiptCID, SequenceNumber: seq}, nil
}

// verifyReceiptSignature checks the Ed25519 signature over the raw
// receipt bytes with the sender's newest active device key. Both a
// missing key and a failed verification are forbidden-class errors.
func (s *Service) verifyReceiptSignature(ctx context.Context, senderDID string, data, sig []byte) error {
	keyB64, err := s.store.LatestSigningKey(ctx, senderDID)
	if err != nil {
		return err
	}
	pub, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: stored key is not a valid Ed25519 key", models.ErrBadSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return models.ErrBadSignature
	}
	return nil
}

// authorizeReceipt admits active members, plus the genesis write: a
// jar.created receipt on a jar with zero receipts.
func (s *Service) authorizeReceipt(ctx context.Context, jarID, senderDID, receiptType string) error {
	active, err := s.store.IsActiveMember(ctx, jarID, senderDID)
	if err != nil {
		return err
	}
	if active {
		return nil
	}
	if receiptType == receipt.TypeJarCreated {
		n, err := s.store.ReceiptCount(ctx, jarID)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return models.ErrNotJarMember
}

// materialize applies one receipt to the jar_members view.
func (s *Service) materialize(ctx context.Context, jarID, receiptCID string, env *receipt.Envelope) error {
	ts, err := env.TimestampMillis()
	if err != nil {
		return err
	}

	switch env.ReceiptType {
	case receipt.TypeJarCreated:
		return s.store.PutJarMember(ctx, &models.JarMember{
			JarID:             jarID,
			MemberDID:         env.SenderDID,
			Status:            models.MemberActive,
			Role:              models.RoleOwner,
			AddedAt:           ts,
			AddedByReceiptCID: receiptCID,
		})

	case receipt.TypeMemberAdded:
		memberDID, err := env.MemberDID()
		if err != nil {
			return err
		}
		return s.store.PutJarMember(ctx, &models.JarMember{
			JarID:             jarID,
			MemberDID:         memberDID,
			Status:            models.MemberActive,
			Role:              models.RoleMember,
			AddedAt:           ts,
			AddedByReceiptCID: receiptCID,
		})

	case receipt.TypeInviteAccepted:
		memberDID, err := env.MemberDID()
		if err != nil {
			memberDID = env.SenderDID
		}
		return s.store.SetMemberStatus(ctx, jarID, memberDID, models.MemberActive, nil, nil)

	case receipt.TypeMemberRemoved:
		memberDID, err := env.MemberDID()
		if err != nil {
			return err
		}
		return s.store.SetMemberStatus(ctx, jarID, memberDID, models.MemberRemoved, &ts, &receiptCID)

	default:
		logger.InfoCtx(ctx, "ignoring receipt of unknown type",
			"jar_id", jarID, "receipt_type", env.ReceiptType)
		return nil
	}
}

// ReceiptQuery selects a backfill mode: From/To when both are set,
// otherwise After/Limit.
type ReceiptQuery struct {
	After *int64
	Limit int
	From  *int64
	To    *int64
}

// ReceiptEnvelope is one backfilled receipt with the raw bytes
// re-encoded for transport.
type ReceiptEnvelope struct {
	ReceiptCID     string  `json:"receipt_cid"`
	SequenceNumber int64   `json:"sequence_number"`
	ReceiptData    string  `json:"receipt_data"`
	Signature      string  `json:"signature"`
	SenderDID      string  `json:"sender_did"`
	ParentCID      *string `json:"parent_cid,omitempty"`
	ReceivedAt     int64   `json:"received_at"`
}

// Receipts backfills a jar's log for an active member, in ascending
// sequence order.
func (s *Service) Receipts(ctx context.Context, callerDID, jarID string, q ReceiptQuery) ([]*ReceiptEnvelope, error) {
	if jarID == "" {
		return nil, invalid("jar_id", "must not be empty")
	}

	active, err := s.store.IsActiveMember(ctx, jarID, callerDID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, models.ErrNotJarMember
	}

	var rows []*models.JarReceipt
	switch {
	case q.From != nil && q.To != nil:
		rows, err = s.store.ReceiptsRange(ctx, jarID, *q.From, *q.To)
	case q.From != nil || q.To != nil:
		return nil, invalid("range", "from and to must be given together")
	default:
		after := int64(0)
		if q.After != nil {
			after = *q.After
		}
		limit := q.Limit
		if limit <= 0 {
			limit = DefaultBackfillLimit
		}
		if limit > MaxBackfillLimit {
			limit = MaxBackfillLimit
		}
		rows, err = s.store.ReceiptsAfter(ctx, jarID, after, limit)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*ReceiptEnvelope, len(rows))
	for i, row := range rows {
		out[i] = &ReceiptEnvelope{
			ReceiptCID:     row.ReceiptCID,
			SequenceNumber: row.SequenceNumber,
			ReceiptData:    base64.StdEncoding.EncodeToString(row.ReceiptData),
			Signature:      base64.StdEncoding.EncodeToString(row.Signature),
			SenderDID:      row.SenderDID,
			ParentCID:      row.ParentCID,
			ReceivedAt:     row.ReceivedAt,
		}
	}
	return out, nil
}

// JarSummary is one entry in a caller's jar list.
type JarSummary struct {
	JarID string `json:"jar_id"`
	Role  string `json:"role"`
}

// ListJars returns the jars where the caller is an active member.
func (s *Service) ListJars(ctx context.Context, callerDID string) ([]*JarSummary, error) {
	if !validate.IsDID(callerDID) {
		return nil, invalid("did", "must be a valid DID")
	}
	members, err := s.store.ListJarsForDID(ctx, callerDID)
	if err != nil {
		return nil, err
	}
	out := make([]*JarSummary, len(members))
	for i, m := range members {
		out[i] = &JarSummary{JarID: m.JarID, Role: m.Role}
	}
	return out, nil
}

// RebuildMembership wipes a jar's materialized view and replays its
// receipt log in sequence order. Receipts are the source of truth; the
// view is disposable.
func (s *Service) RebuildMembership(ctx context.Context, jarID string) error {
	if err := s.store.ClearJarMembers(ctx, jarID); err != nil {
		return err
	}
	rows, err := s.store.AllReceipts(ctx, jarID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		env, err := receipt.Decode(row.ReceiptData)
		if err != nil {
			logger.WarnCtx(ctx, "skipping undecodable receipt during replay",
				"jar_id", jarID, "receipt_cid", row.ReceiptCID, "error", err)
			continue
		}
		if err := s.materialize(ctx, jarID, row.ReceiptCID, env); err != nil {
			return fmt.Errorf("replay of %s failed: %w", row.ReceiptCID, err)
		}
	}
	return nil
}
