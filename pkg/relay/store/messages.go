package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/ericyarmo/buds-relay/pkg/relay/models"
)

// CreateMessage inserts the message row and one delivery row per
// recipient in a single transaction. A duplicate message_id yields
// ErrDuplicateMessage and writes nothing.
func (s *GORMStore) CreateMessage(ctx context.Context, msg *models.EncryptedMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.ErrDuplicateMessage
			}
			return err
		}
		deliveries := make([]models.MessageDelivery, len(msg.RecipientDIDs))
		for i, did := range msg.RecipientDIDs {
			deliveries[i] = models.MessageDelivery{
				MessageID:    msg.MessageID,
				RecipientDID: did,
			}
		}
		return tx.Create(&deliveries).Error
	})
}

// MessageExists reports whether a message row exists for the id,
// regardless of expiry.
func (s *GORMStore) MessageExists(ctx context.Context, messageID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.EncryptedMessage{}).
		Where("message_id = ?", messageID).
		Count(&n).Error
	return n > 0, err
}

// GetMessage fetches a message row by id.
func (s *GORMStore) GetMessage(ctx context.Context, messageID string) (*models.EncryptedMessage, error) {
	var msg models.EncryptedMessage
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&msg).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrMessageNotFound)
	}
	return &msg, nil
}

// Inbox returns unexpired messages addressed to the DID with
// created_at > since, newest first, capped at limit.
func (s *GORMStore) Inbox(ctx context.Context, did string, since int64, limit int, now int64) ([]*models.EncryptedMessage, error) {
	var msgs []*models.EncryptedMessage
	err := s.db.WithContext(ctx).
		Joins("JOIN message_delivery ON message_delivery.message_id = encrypted_messages.message_id").
		Where("message_delivery.recipient_did = ?", did).
		Where("encrypted_messages.created_at > ?", since).
		Where("encrypted_messages.expires_at > ?", now).
		Order("encrypted_messages.created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkDelivered sets delivered_at on a pending delivery. The null guard
// makes the write monotonic: once set, delivered_at never changes.
// Returns ErrDeliveryNotFound when no pending delivery row matches.
func (s *GORMStore) MarkDelivered(ctx context.Context, messageID, recipientDID string, now int64) error {
	res := s.db.WithContext(ctx).Model(&models.MessageDelivery{}).
		Where("message_id = ? AND recipient_did = ? AND delivered_at IS NULL", messageID, recipientDID).
		Update("delivered_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrDeliveryNotFound
	}
	return nil
}

// DeleteMessage removes the message row and all its delivery rows.
func (s *GORMStore) DeleteMessage(ctx context.Context, messageID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", messageID).Delete(&models.MessageDelivery{}).Error; err != nil {
			return err
		}
		res := tx.Where("message_id = ?", messageID).Delete(&models.EncryptedMessage{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrMessageNotFound
		}
		return nil
	})
}

// ExpiredMessages returns all messages with expires_at < now. Used by the
// cleanup sweep to delete blobs before rows.
func (s *GORMStore) ExpiredMessages(ctx context.Context, now int64) ([]*models.EncryptedMessage, error) {
	var msgs []*models.EncryptedMessage
	if err := s.db.WithContext(ctx).Where("expires_at < ?", now).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteExpiredMessages removes message rows with expires_at < now,
// except the ids in keep, and returns how many were deleted. The sweep
// passes the ids whose blob delete failed so those rows survive for a
// retry on the next pass.
func (s *GORMStore) DeleteExpiredMessages(ctx context.Context, now int64, keep []string) (int64, error) {
	q := s.db.WithContext(ctx).Where("expires_at < ?", now)
	if len(keep) > 0 {
		q = q.Where("message_id NOT IN ?", keep)
	}
	res := q.Delete(&models.EncryptedMessage{})
	return res.RowsAffected, res.Error
}

// DeleteOrphanDeliveries removes delivery rows whose message no longer
// exists and returns how many were deleted.
func (s *GORMStore) DeleteOrphanDeliveries(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("message_id NOT IN (?)", s.db.Model(&models.EncryptedMessage{}).Select("message_id")).
		Delete(&models.MessageDelivery{})
	return res.RowsAffected, res.Error
}

// DeleteIdleDevices removes devices whose last_seen_at is older than the
// cutoff and returns how many were deleted.
func (s *GORMStore) DeleteIdleDevices(ctx context.Context, cutoff int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("last_seen_at < ?", cutoff).Delete(&models.Device{})
	return res.RowsAffected, res.Error
}
