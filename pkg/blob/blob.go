// Package blob stores encrypted message payloads. Payloads are opaque
// ciphertext; the relay writes, serves and deletes them without ever
// inspecting the contents.
package blob

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested blob does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("blob store is closed")
)

// Metadata is attached to each stored blob for operational traceability.
// All values are relay-side identifiers, never payload content.
type Metadata struct {
	MessageID  string
	ReceiptCID string
	SenderDID  string
	UploadedAt string
}

// Store is the payload storage abstraction. The relay writes the blob
// before any metadata row references it, so a dangling key is always a
// blob without a row, never the reverse.
type Store interface {
	// Put writes the payload under the key with the given metadata.
	Put(ctx context.Context, key string, data []byte, meta Metadata) error

	// Get returns the payload stored under the key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the payload. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// HealthCheck verifies the backing storage is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// MessageKey returns the storage key for a message payload.
func MessageKey(messageID string) string {
	return fmt.Sprintf("messages/%s.bin", messageID)
}
