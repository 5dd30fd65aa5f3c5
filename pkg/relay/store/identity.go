package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ericyarmo/buds-relay/pkg/relay/models"
)

// All identity operations take phones in encrypted form; plaintext never
// reaches this package.

// GetOrCreateAccountSalt persists candidateSalt for the phone unless a
// salt already exists, and returns the winning value. Safe under
// concurrent first-time calls: insert-or-ignore on the primary key makes
// one writer win, and the re-read means every caller observes the same
// salt.
func (s *GORMStore) GetOrCreateAccountSalt(ctx context.Context, encryptedPhone, candidateSalt string, now int64) (salt string, created bool, err error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.AccountSalt{
		EncryptedPhone: encryptedPhone,
		Salt:           candidateSalt,
		CreatedAt:      now,
	})
	if res.Error != nil {
		return "", false, res.Error
	}

	var row models.AccountSalt
	if err := s.db.WithContext(ctx).Where("encrypted_phone = ?", encryptedPhone).First(&row).Error; err != nil {
		return "", false, err
	}
	return row.Salt, res.RowsAffected > 0, nil
}

// LookupDID resolves an encrypted phone to its DID.
func (s *GORMStore) LookupDID(ctx context.Context, encryptedPhone string) (string, error) {
	var row models.PhoneMapping
	if err := s.db.WithContext(ctx).Where("encrypted_phone = ?", encryptedPhone).First(&row).Error; err != nil {
		return "", convertNotFoundError(err, models.ErrMappingNotFound)
	}
	return row.DID, nil
}

// BatchLookupDID resolves up to MaxRecipients encrypted phones in a
// single IN query. Missing phones are simply absent from the result.
func (s *GORMStore) BatchLookupDID(ctx context.Context, encryptedPhones []string) (map[string]string, error) {
	var rows []models.PhoneMapping
	if err := s.db.WithContext(ctx).Where("encrypted_phone IN ?", encryptedPhones).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.EncryptedPhone] = r.DID
	}
	return out, nil
}

// UpsertPhoneMapping records encrypted_phone → DID, overwriting any
// previous mapping for that phone.
func (s *GORMStore) UpsertPhoneMapping(ctx context.Context, encryptedPhone, did string, now int64) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "encrypted_phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"did"}),
	}).Create(&models.PhoneMapping{
		EncryptedPhone: encryptedPhone,
		DID:            did,
		CreatedAt:      now,
	}).Error
}

// UpsertDevice inserts the device, or on device_id conflict refreshes
// keys, name, push token, status and last_seen_at while preserving
// registered_at.
func (s *GORMStore) UpsertDevice(ctx context.Context, device *models.Device) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_did", "owner_encrypted_phone", "device_name",
			"pubkey_x25519", "pubkey_ed25519", "push_token",
			"status", "last_seen_at",
		}),
	}).Create(device).Error
}

// GetDevice fetches a device by id.
func (s *GORMStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	var device models.Device
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrDeviceNotFound)
	}
	return &device, nil
}

// ListDevicesByDIDs returns all active devices owned by any of the given
// DIDs.
func (s *GORMStore) ListDevicesByDIDs(ctx context.Context, dids []string) ([]*models.Device, error) {
	var devices []*models.Device
	err := s.db.WithContext(ctx).
		Where("owner_did IN ? AND status = ?", dids, models.DeviceActive).
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// CountActiveDevices returns how many active devices a DID has.
func (s *GORMStore) CountActiveDevices(ctx context.Context, did string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("owner_did = ? AND status = ?", did, models.DeviceActive).
		Count(&n).Error
	return n, err
}

// Heartbeat updates last_seen_at on an active device. Returns
// ErrDeviceNotFound if the device is absent or inactive.
func (s *GORMStore) Heartbeat(ctx context.Context, deviceID string, now int64) error {
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("device_id = ? AND status = ?", deviceID, models.DeviceActive).
		Update("last_seen_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrDeviceNotFound
	}
	return nil
}

// LatestSigningKey returns the Ed25519 public key (base64) of the most
// recently registered active device for a DID. Returns ErrNoSigningKey
// when the DID has no active device.
func (s *GORMStore) LatestSigningKey(ctx context.Context, did string) (string, error) {
	var device models.Device
	err := s.db.WithContext(ctx).
		Where("owner_did = ? AND status = ?", did, models.DeviceActive).
		Order("registered_at DESC").
		First(&device).Error
	if err != nil {
		return "", convertNotFoundError(err, models.ErrNoSigningKey)
	}
	return device.PubkeyEd25519, nil
}

// PushTargets returns the active devices of the given DIDs that carry a
// push token.
func (s *GORMStore) PushTargets(ctx context.Context, dids []string) ([]*models.Device, error) {
	var devices []*models.Device
	err := s.db.WithContext(ctx).
		Where("owner_did IN ? AND status = ? AND push_token IS NOT NULL", dids, models.DeviceActive).
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// DeactivateDevice marks a device inactive and clears its push token.
// Used when the push provider reports the token gone (HTTP 410).
func (s *GORMStore) DeactivateDevice(ctx context.Context, deviceID string) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{
			"status":     models.DeviceInactive,
			"push_token": gorm.Expr("NULL"),
		}).Error
}
