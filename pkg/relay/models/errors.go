package models

import "errors"

// Domain errors for relay operations. The store layer converts database
// errors (not-found, unique violations) into these; handlers map them to
// the stable wire codes.
var (
	// Identity errors
	ErrDeviceNotFound  = errors.New("device not found")
	ErrDeviceInactive  = errors.New("device is inactive")
	ErrMappingNotFound = errors.New("no DID mapping for phone")
	ErrDeviceLimit     = errors.New("device limit exceeded for identity")

	// Message errors
	ErrDuplicateMessage = errors.New("message already exists")
	ErrMessageNotFound  = errors.New("message not found")
	ErrDeliveryNotFound = errors.New("no pending delivery for recipient")

	// Receipt errors
	ErrReceiptNotFound   = errors.New("receipt not found")
	ErrSequenceConflict  = errors.New("sequence number already assigned")
	ErrNotJarMember      = errors.New("sender is not an active member of the jar")
	ErrNoSigningKey      = errors.New("no active signing key for sender")
	ErrBadSignature      = errors.New("receipt signature verification failed")
	ErrInvalidRange      = errors.New("invalid sequence range")
)
