package models

// MessageTTLMillis is how long a message stays retrievable: 30 days.
const MessageTTLMillis = 30 * 24 * 60 * 60 * 1000

// EncryptedMessage is the metadata row for one relayed ciphertext.
//
// Exactly one of BlobKey or EncryptedPayload is set: new writes offload
// the ciphertext to the blob store, legacy rows carry it inline. The
// signature is stored verbatim for recipients to verify; the relay never
// checks it for direct messages.
type EncryptedMessage struct {
	MessageID        string            `gorm:"primaryKey;size:36" json:"message_id"`
	ReceiptCID       string            `gorm:"column:receipt_cid;index;not null;size:64" json:"receipt_cid"`
	SenderDID        string            `gorm:"column:sender_did;index;not null;size:128" json:"sender_did"`
	SenderDeviceID   string            `gorm:"not null;size:36" json:"sender_device_id"`
	RecipientDIDs    []string          `gorm:"column:recipient_dids;serializer:json;not null" json:"recipient_dids"`
	WrappedKeys      map[string]string `gorm:"serializer:json;not null" json:"wrapped_keys"`
	Signature        string            `gorm:"not null" json:"signature"`
	BlobKey          *string           `gorm:"index" json:"blob_key,omitempty"`
	EncryptedPayload *string           `json:"-"`
	CreatedAt        int64             `gorm:"index;not null" json:"created_at"`
	ExpiresAt        int64             `gorm:"index;not null" json:"expires_at"`
}

// TableName returns the table name for EncryptedMessage.
func (EncryptedMessage) TableName() string {
	return "encrypted_messages"
}

// MessageDelivery tracks per-recipient delivery of a message. Rows are
// created with the message and removed with it; delivered_at is set once
// and never cleared.
type MessageDelivery struct {
	MessageID    string `gorm:"primaryKey;size:36" json:"message_id"`
	RecipientDID string `gorm:"column:recipient_did;primaryKey;index;size:128" json:"recipient_did"`
	DeliveredAt  *int64 `json:"delivered_at,omitempty"`
}

// TableName returns the table name for MessageDelivery.
func (MessageDelivery) TableName() string {
	return "message_delivery"
}
