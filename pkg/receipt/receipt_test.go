package receipt

import (
	"errors"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

const testSender = "did:phone:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func encodeReceipt(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		t.Fatal(err)
	}
	data, err := mode.Marshal(fields)
	if err != nil {
		t.Fatalf("failed to encode test receipt: %v", err)
	}
	return data
}

func TestDecodeValid(t *testing.T) {
	data := encodeReceipt(t, map[string]any{
		"receipt_type": TypeJarCreated,
		"sender_did":   testSender,
		"timestamp":    uint64(1700000000000),
		"payload":      map[string]any{"jar_name": "beach trip"},
	})

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.ReceiptType != TypeJarCreated {
		t.Errorf("expected type %q, got %q", TypeJarCreated, env.ReceiptType)
	}
	if env.SenderDID != testSender {
		t.Errorf("unexpected sender: %q", env.SenderDID)
	}
	ms, err := env.TimestampMillis()
	if err != nil {
		t.Fatalf("TimestampMillis failed: %v", err)
	}
	if ms != 1700000000000 {
		t.Errorf("expected 1700000000000, got %d", ms)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0x00, 0x12}); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeRequiresType(t *testing.T) {
	data := encodeReceipt(t, map[string]any{
		"sender_did": testSender,
		"timestamp":  uint64(1),
	})
	if _, err := Decode(data); !errors.Is(err, ErrMissingType) {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
}

func TestExtractSenderDID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		data := encodeReceipt(t, map[string]any{
			"receipt_type": TypeMemberAdded,
			"sender_did":   testSender,
			"timestamp":    uint64(1),
		})
		did, err := ExtractSenderDID(data)
		if err != nil {
			t.Fatalf("ExtractSenderDID failed: %v", err)
		}
		if did != testSender {
			t.Errorf("unexpected sender: %q", did)
		}
	})

	t.Run("missing", func(t *testing.T) {
		data := encodeReceipt(t, map[string]any{"receipt_type": TypeMemberAdded})
		if _, err := ExtractSenderDID(data); !errors.Is(err, ErrMissingSender) {
			t.Errorf("expected ErrMissingSender, got %v", err)
		}
	})

	t.Run("wrong prefix", func(t *testing.T) {
		data := encodeReceipt(t, map[string]any{"sender_did": "did:web:example.com"})
		if _, err := ExtractSenderDID(data); !errors.Is(err, ErrInvalidSender) {
			t.Errorf("expected ErrInvalidSender, got %v", err)
		}
	})
}

func TestTimestampNarrowing(t *testing.T) {
	data := encodeReceipt(t, map[string]any{
		"receipt_type": TypeJarCreated,
		"sender_did":   testSender,
		"timestamp":    uint64(math.MaxUint64),
	})
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, err := env.TimestampMillis(); !errors.Is(err, ErrTimestampRange) {
		t.Errorf("expected ErrTimestampRange, got %v", err)
	}
}

func TestMemberDID(t *testing.T) {
	memberDID := "did:phone:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	t.Run("snake_case", func(t *testing.T) {
		data := encodeReceipt(t, map[string]any{
			"receipt_type": TypeMemberAdded,
			"sender_did":   testSender,
			"timestamp":    uint64(1),
			"payload":      map[string]any{"member_did": memberDID},
		})
		env, _ := Decode(data)
		got, err := env.MemberDID()
		if err != nil {
			t.Fatalf("MemberDID failed: %v", err)
		}
		if got != memberDID {
			t.Errorf("unexpected member: %q", got)
		}
	})

	t.Run("camelCase", func(t *testing.T) {
		data := encodeReceipt(t, map[string]any{
			"receipt_type": TypeMemberAdded,
			"sender_did":   testSender,
			"timestamp":    uint64(1),
			"payload":      map[string]any{"memberDID": memberDID},
		})
		env, _ := Decode(data)
		got, err := env.MemberDID()
		if err != nil {
			t.Fatalf("MemberDID failed: %v", err)
		}
		if got != memberDID {
			t.Errorf("unexpected member: %q", got)
		}
	})

	t.Run("absent", func(t *testing.T) {
		data := encodeReceipt(t, map[string]any{
			"receipt_type": TypeMemberAdded,
			"sender_did":   testSender,
			"timestamp":    uint64(1),
			"payload":      map[string]any{"unrelated": "field"},
		})
		env, _ := Decode(data)
		if _, err := env.MemberDID(); !errors.Is(err, ErrMissingMember) {
			t.Errorf("expected ErrMissingMember, got %v", err)
		}
	})

	t.Run("no payload", func(t *testing.T) {
		data := encodeReceipt(t, map[string]any{
			"receipt_type": TypeJarCreated,
			"sender_did":   testSender,
			"timestamp":    uint64(1),
		})
		env, _ := Decode(data)
		if _, err := env.MemberDID(); !errors.Is(err, ErrMissingMember) {
			t.Errorf("expected ErrMissingMember, got %v", err)
		}
	})
}
