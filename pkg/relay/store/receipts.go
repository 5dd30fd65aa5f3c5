package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/ericyarmo/buds-relay/internal/metrics"
	"github.com/ericyarmo/buds-relay/pkg/relay/models"
)

// Sequence assignment retry bounds. The compound insert computes
// MAX(sequence)+1 and the unique index on (jar_id, sequence_number)
// rejects the loser of a race; bounded retry with linear backoff resolves
// contention.
const (
	maxSequenceAttempts  = 5
	sequenceRetryBackoff = 10 * time.Millisecond
)

// GetReceiptByCID fetches a receipt envelope by its CID.
func (s *GORMStore) GetReceiptByCID(ctx context.Context, receiptCID string) (*models.JarReceipt, error) {
	var r models.JarReceipt
	if err := s.db.WithContext(ctx).Where("receipt_cid = ?", receiptCID).First(&r).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrReceiptNotFound)
	}
	return &r, nil
}

// ReceiptExists reports whether any receipt carries the CID.
func (s *GORMStore) ReceiptExists(ctx context.Context, receiptCID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.JarReceipt{}).
		Where("receipt_cid = ?", receiptCID).
		Count(&n).Error
	return n > 0, err
}

// ReceiptCount returns how many receipts a jar holds.
func (s *GORMStore) ReceiptCount(ctx context.Context, jarID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.JarReceipt{}).
		Where("jar_id = ?", jarID).
		Count(&n).Error
	return n, err
}

// AppendReceipt inserts the receipt with the next sequence number for its
// jar and returns the assigned sequence.
//
// The insert is a single compound statement — sequence_number is computed
// as COALESCE(MAX(sequence_number), 0)+1 over the jar inside the INSERT
// itself, so there is no read-modify-write window. Concurrent appends
// collide on the (jar_id, sequence_number) unique index; the loser backs
// off (10ms × attempt) and retries, up to 5 attempts. A unique violation
// can also mean a concurrent duplicate of the same receipt won the race
// on the receipt_cid primary key; that case returns the stored sequence,
// keeping resubmission idempotent.
func (s *GORMStore) AppendReceipt(ctx context.Context, r *models.JarReceipt) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSequenceAttempts; attempt++ {
		err := s.db.WithContext(ctx).Exec(`
			INSERT INTO jar_receipts
				(receipt_cid, jar_id, sequence_number, receipt_data, signature, sender_did, parent_cid, received_at)
			SELECT ?, ?, COALESCE(MAX(sequence_number), 0) + 1, ?, ?, ?, ?, ?
			FROM jar_receipts WHERE jar_id = ?`,
			r.ReceiptCID, r.JarID, r.ReceiptData, r.Signature, r.SenderDID, r.ParentCID, r.ReceivedAt,
			r.JarID,
		).Error
		if err == nil {
			stored, err := s.GetReceiptByCID(ctx, r.ReceiptCID)
			if err != nil {
				return 0, err
			}
			metrics.SequenceRetries.Observe(float64(attempt - 1))
			return stored.SequenceNumber, nil
		}
		if !isUniqueConstraintError(err) {
			return 0, err
		}
		if stored, lookupErr := s.GetReceiptByCID(ctx, r.ReceiptCID); lookupErr == nil {
			metrics.SequenceRetries.Observe(float64(attempt - 1))
			return stored.SequenceNumber, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * sequenceRetryBackoff):
		}
	}
	return 0, fmt.Errorf("%w: %v", models.ErrSequenceConflict, lastErr)
}

// ReceiptsAfter returns receipts with sequence_number > after, ascending,
// capped at limit.
func (s *GORMStore) ReceiptsAfter(ctx context.Context, jarID string, after int64, limit int) ([]*models.JarReceipt, error) {
	var rs []*models.JarReceipt
	err := s.db.WithContext(ctx).
		Where("jar_id = ? AND sequence_number > ?", jarID, after).
		Order("sequence_number ASC").
		Limit(limit).
		Find(&rs).Error
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// ReceiptsRange returns receipts with sequence_number in [from, to],
// ascending.
func (s *GORMStore) ReceiptsRange(ctx context.Context, jarID string, from, to int64) ([]*models.JarReceipt, error) {
	if from > to {
		return nil, models.ErrInvalidRange
	}
	var rs []*models.JarReceipt
	err := s.db.WithContext(ctx).
		Where("jar_id = ? AND sequence_number BETWEEN ? AND ?", jarID, from, to).
		Order("sequence_number ASC").
		Find(&rs).Error
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// AllReceipts returns a jar's full log in sequence order. Used by
// membership replay.
func (s *GORMStore) AllReceipts(ctx context.Context, jarID string) ([]*models.JarReceipt, error) {
	var rs []*models.JarReceipt
	err := s.db.WithContext(ctx).
		Where("jar_id = ?", jarID).
		Order("sequence_number ASC").
		Find(&rs).Error
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// PutJarMember inserts or replaces the membership row for (jar, member).
// Re-adding after removal overwrites the row.
func (s *GORMStore) PutJarMember(ctx context.Context, m *models.JarMember) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "jar_id"}, {Name: "member_did"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "role", "added_at", "removed_at",
			"added_by_receipt_cid", "removed_by_receipt_cid",
		}),
	}).Create(m).Error
}

// GetJarMember fetches the membership row for (jar, member).
func (s *GORMStore) GetJarMember(ctx context.Context, jarID, memberDID string) (*models.JarMember, error) {
	var m models.JarMember
	err := s.db.WithContext(ctx).
		Where("jar_id = ? AND member_did = ?", jarID, memberDID).
		First(&m).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrNotJarMember)
	}
	return &m, nil
}

// IsActiveMember reports whether the DID is an active member of the jar.
func (s *GORMStore) IsActiveMember(ctx context.Context, jarID, did string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.JarMember{}).
		Where("jar_id = ? AND member_did = ? AND status = ?", jarID, did, models.MemberActive).
		Count(&n).Error
	return n > 0, err
}

// SetMemberStatus updates status and removal metadata for (jar, member).
func (s *GORMStore) SetMemberStatus(ctx context.Context, jarID, memberDID, status string, removedAt *int64, removedByCID *string) error {
	return s.db.WithContext(ctx).Model(&models.JarMember{}).
		Where("jar_id = ? AND member_did = ?", jarID, memberDID).
		Updates(map[string]any{
			"status":                 status,
			"removed_at":             removedAt,
			"removed_by_receipt_cid": removedByCID,
		}).Error
}

// ListJarMembers returns all membership rows of a jar.
func (s *GORMStore) ListJarMembers(ctx context.Context, jarID string) ([]*models.JarMember, error) {
	var ms []*models.JarMember
	if err := s.db.WithContext(ctx).Where("jar_id = ?", jarID).Find(&ms).Error; err != nil {
		return nil, err
	}
	return ms, nil
}

// ListJarsForDID returns the jars where the DID is an active member.
func (s *GORMStore) ListJarsForDID(ctx context.Context, did string) ([]*models.JarMember, error) {
	var ms []*models.JarMember
	err := s.db.WithContext(ctx).
		Where("member_did = ? AND status = ?", did, models.MemberActive).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return ms, nil
}

// ClearJarMembers wipes a jar's materialized view. Used before a replay
// rebuild.
func (s *GORMStore) ClearJarMembers(ctx context.Context, jarID string) error {
	return s.db.WithContext(ctx).Where("jar_id = ?", jarID).Delete(&models.JarMember{}).Error
}
