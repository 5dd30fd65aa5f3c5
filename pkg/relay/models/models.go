// Package models defines the persistent entities of the relay and the
// domain errors the store layer maps database failures onto.
//
// All timestamps are integer milliseconds since epoch; the wire format,
// the receipt envelopes, and the schema all agree on that unit.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&Device{},
		&PhoneMapping{},
		&AccountSalt{},
		&EncryptedMessage{},
		&MessageDelivery{},
		&JarReceipt{},
		&JarMember{},
	}
}
