package models

// DeviceStatus is the lifecycle state of a registered device.
type DeviceStatus string

const (
	// DeviceActive devices participate in delivery and push fan-out.
	DeviceActive DeviceStatus = "active"
	// DeviceInactive devices are retained but excluded from delivery;
	// a device goes inactive when its push token is rejected or it is
	// swept after 90 days without a heartbeat.
	DeviceInactive DeviceStatus = "inactive"
)

// Device is one registered client device of an identity.
//
// Re-registration of the same device_id overwrites keys, name and push
// token but preserves registered_at. (owner_did, owner_encrypted_phone)
// must be consistent across all devices of one DID.
type Device struct {
	DeviceID            string       `gorm:"primaryKey;size:36" json:"device_id"`
	OwnerDID            string       `gorm:"column:owner_did;index;not null;size:128" json:"owner_did"`
	OwnerEncryptedPhone string       `gorm:"index;not null" json:"-"`
	DeviceName          string       `gorm:"size:255" json:"device_name"`
	PubkeyX25519        string       `gorm:"not null" json:"pubkey_x25519"`
	PubkeyEd25519       string       `gorm:"not null" json:"pubkey_ed25519"`
	PushToken           *string      `gorm:"index" json:"-"`
	Status              DeviceStatus `gorm:"index;not null;default:active;size:16" json:"status"`
	RegisteredAt        int64        `gorm:"not null" json:"registered_at"`
	LastSeenAt          int64        `gorm:"not null" json:"last_seen_at"`
}

// TableName returns the table name for Device.
func (Device) TableName() string {
	return "devices"
}

// IsActive reports whether the device participates in delivery.
func (d *Device) IsActive() bool {
	return d.Status == DeviceActive
}

// PhoneMapping maps an encrypted phone number to the DID derived from it.
// One DID per encrypted phone.
type PhoneMapping struct {
	EncryptedPhone string `gorm:"primaryKey" json:"-"`
	DID            string `gorm:"column:did;index;not null;size:128" json:"did"`
	CreatedAt      int64  `gorm:"not null" json:"created_at"`
}

// TableName returns the table name for PhoneMapping.
func (PhoneMapping) TableName() string {
	return "phone_to_did"
}

// AccountSalt is the server-held random salt a client combines with its
// phone number to derive a DID. Write-once per phone: once stored, every
// subsequent request observes the same value.
type AccountSalt struct {
	EncryptedPhone string `gorm:"primaryKey" json:"-"`
	Salt           string `gorm:"not null;size:64" json:"salt"`
	CreatedAt      int64  `gorm:"not null" json:"created_at"`
}

// TableName returns the table name for AccountSalt.
func (AccountSalt) TableName() string {
	return "account_salts"
}
