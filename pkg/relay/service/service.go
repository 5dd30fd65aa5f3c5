// Package service implements the relay's business logic on top of the
// store, the blob store and the push notifier. Handlers stay thin; all
// ordering and authorization rules live here.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/ericyarmo/buds-relay/pkg/blob"
	"github.com/ericyarmo/buds-relay/pkg/phonecrypt"
	"github.com/ericyarmo/buds-relay/pkg/push"
	"github.com/ericyarmo/buds-relay/pkg/relay/store"
)

// Domain caps surfaced as their own wire codes.
const (
	// MaxActiveDevices is the per-DID active device cap.
	MaxActiveDevices = 10

	// MaxRecipients is the per-message recipient cap.
	MaxRecipients = 12
)

var (
	// ErrPhoneMismatch indicates the authenticated phone does not match
	// the phone in the request body.
	ErrPhoneMismatch = errors.New("authenticated phone does not match request")

	// ErrSenderDevice indicates the sender device is missing, inactive,
	// or not owned by the claimed sender DID.
	ErrSenderDevice = errors.New("sender device is not an active device of the sender")

	// ErrNotMessageSender indicates a delete attempt on a live message by
	// someone other than its sender.
	ErrNotMessageSender = errors.New("only the sender may delete an unexpired message")

	// ErrRecipientLimit indicates more recipients than MaxRecipients.
	ErrRecipientLimit = errors.New("too many recipients")
)

// ValidationError carries field-level messages for VALIDATION_ERROR
// responses.
type ValidationError struct {
	Fields []FieldError
}

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("validation failed: %d fields", len(e.Fields))
}

// invalid builds a single-field ValidationError.
func invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Service wires the relay's stateful collaborators together.
type Service struct {
	store    *store.GORMStore
	blobs    blob.Store
	notifier push.Notifier
	phones   *phonecrypt.Encryptor

	// now returns the current time in epoch milliseconds. Swappable in
	// tests.
	now func() int64
}

// New creates a Service. The notifier may be push.NopNotifier{} when
// push is not configured.
func New(st *store.GORMStore, blobs blob.Store, notifier push.Notifier, phones *phonecrypt.Encryptor) *Service {
	return &Service{
		store:    st,
		blobs:    blobs,
		notifier: notifier,
		phones:   phones,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Store exposes the underlying store for health checks and CLI commands.
func (s *Service) Store() *store.GORMStore {
	return s.store
}
