// Package receipt decodes the canonical CBOR envelopes that make up a
// jar's append-only log.
//
// A receipt is a CBOR map with at least receipt_type, sender_did and
// timestamp, an optional parent_cid, and a type-specific payload map. The
// relay only decodes the typed envelope fields it needs to sequence the
// log and materialize membership; payload contents beyond member_did stay
// opaque.
package receipt

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Receipt types the relay understands. Unknown types are stored but have
// no effect on membership.
const (
	TypeJarCreated     = "jar.created"
	TypeMemberAdded    = "jar.member_added"
	TypeInviteAccepted = "jar.invite_accepted"
	TypeMemberRemoved  = "jar.member_removed"
)

// senderDIDPrefix is required on the sender of every receipt. Legacy
// did:buds identities exist for devices and messages but never sign
// receipts.
const senderDIDPrefix = "did:phone:"

var (
	ErrMalformed       = errors.New("receipt is not a valid CBOR envelope")
	ErrMissingSender   = errors.New("receipt has no sender_did")
	ErrInvalidSender   = errors.New("receipt sender_did is not a did:phone identity")
	ErrMissingType     = errors.New("receipt has no receipt_type")
	ErrTimestampRange  = errors.New("receipt timestamp does not fit in 64-bit milliseconds")
	ErrMissingMember   = errors.New("receipt payload has no member_did")
	ErrPayloadNotAMap  = errors.New("receipt payload is not a map")
)

// Envelope is the decoded view of a receipt's typed fields.
type Envelope struct {
	ReceiptType string          `cbor:"receipt_type"`
	SenderDID   string          `cbor:"sender_did"`
	Timestamp   uint64          `cbor:"timestamp"`
	ParentCID   string          `cbor:"parent_cid,omitempty"`
	Payload     cbor.RawMessage `cbor:"payload,omitempty"`
}

// Decode parses receipt bytes into an Envelope, checking the fields every
// receipt must carry.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.ReceiptType == "" {
		return nil, ErrMissingType
	}
	if err := checkSender(env.SenderDID); err != nil {
		return nil, err
	}
	return &env, nil
}

// ExtractSenderDID decodes just enough of the receipt to learn which key
// to verify with. It runs before any signature check, so it must never
// trust the content beyond its shape.
func ExtractSenderDID(data []byte) (string, error) {
	var probe struct {
		SenderDID string `cbor:"sender_did"`
	}
	if err := cbor.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := checkSender(probe.SenderDID); err != nil {
		return "", err
	}
	return probe.SenderDID, nil
}

func checkSender(did string) error {
	if did == "" {
		return ErrMissingSender
	}
	if !strings.HasPrefix(did, senderDIDPrefix) {
		return ErrInvalidSender
	}
	return nil
}

// TimestampMillis narrows the CBOR timestamp to a signed 64-bit
// millisecond value. CBOR unsigned integers can exceed int64 range and
// the database layer rejects arbitrary-precision values, so the envelope
// carries uint64 and callers narrow through here.
func (e *Envelope) TimestampMillis() (int64, error) {
	if e.Timestamp > math.MaxInt64 {
		return 0, ErrTimestampRange
	}
	return int64(e.Timestamp), nil
}

// DecodePayload decodes the payload as a generic map. Returns
// ErrPayloadNotAMap if a payload is present but is not a CBOR map, and an
// empty map if the payload is absent.
func (e *Envelope) DecodePayload() (map[string]any, error) {
	if len(e.Payload) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := cbor.Unmarshal(e.Payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadNotAMap, err)
	}
	return m, nil
}

// MemberDID extracts the member identity a membership receipt acts on.
// Clients have shipped both snake_case and camelCase field names, so both
// are accepted.
func (e *Envelope) MemberDID() (string, error) {
	m, err := e.DecodePayload()
	if err != nil {
		return "", err
	}
	for _, key := range []string{"member_did", "memberDID"} {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, nil
			}
		}
	}
	return "", ErrMissingMember
}
