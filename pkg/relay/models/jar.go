package models

// JarReceipt is one envelope in a jar's append-only log.
//
// (jar_id, sequence_number) is dense starting at 1 and unique — the
// unique index is the correctness anchor for concurrent sequence
// assignment. The sequence number is assigned by the relay and lives only
// in the envelope; it is never part of the signed bytes.
type JarReceipt struct {
	ReceiptCID     string  `gorm:"column:receipt_cid;primaryKey;size:64" json:"receipt_cid"`
	JarID          string  `gorm:"uniqueIndex:idx_jar_receipts_jar_seq;not null;size:64" json:"jar_id"`
	SequenceNumber int64   `gorm:"uniqueIndex:idx_jar_receipts_jar_seq;not null" json:"sequence_number"`
	ReceiptData    []byte  `gorm:"not null" json:"-"`
	Signature      []byte  `gorm:"not null" json:"-"`
	SenderDID      string  `gorm:"column:sender_did;index;not null;size:128" json:"sender_did"`
	ParentCID      *string `gorm:"column:parent_cid;index;size:64" json:"parent_cid,omitempty"`
	ReceivedAt     int64   `gorm:"not null" json:"received_at"`
}

// TableName returns the table name for JarReceipt.
func (JarReceipt) TableName() string {
	return "jar_receipts"
}

// Membership states materialized from receipts.
const (
	MemberActive  = "active"
	MemberPending = "pending"
	MemberRemoved = "removed"
)

// Member roles. The owner role is assigned exactly once per jar, by the
// jar.created genesis receipt.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// JarMember is the materialized membership view over a jar's receipts.
// It exists for cheap membership checks on the hot path and is fully
// rebuildable by replaying the receipt log in sequence order.
type JarMember struct {
	JarID               string  `gorm:"primaryKey;index:idx_jar_members_jar_status;size:64" json:"jar_id"`
	MemberDID           string  `gorm:"column:member_did;primaryKey;index;size:128" json:"member_did"`
	Status              string  `gorm:"index:idx_jar_members_jar_status;not null;size:16" json:"status"`
	Role                string  `gorm:"not null;size:16" json:"role"`
	AddedAt             int64   `gorm:"not null" json:"added_at"`
	RemovedAt           *int64  `json:"removed_at,omitempty"`
	AddedByReceiptCID   string  `gorm:"column:added_by_receipt_cid;size:64" json:"added_by_receipt_cid"`
	RemovedByReceiptCID *string `gorm:"column:removed_by_receipt_cid;size:64" json:"removed_by_receipt_cid,omitempty"`
}

// TableName returns the table name for JarMember.
func (JarMember) TableName() string {
	return "jar_members"
}

// IsActive reports whether the member currently belongs to the jar.
func (m *JarMember) IsActive() bool {
	return m.Status == MemberActive
}
