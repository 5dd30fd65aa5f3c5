// Package validate implements the wire-format validation rules for
// identifiers and payload fields. Everything here is shape validation
// only; nothing touches storage, and rejected inputs never reach it.
package validate

import (
	"encoding/base64"
	"regexp"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// MaxRecipients caps the recipient list of a direct message and the DID
// list of batch lookups.
const MaxRecipients = 12

var (
	phoneDIDRe = regexp.MustCompile(`^did:phone:[0-9a-f]{64}$`)
	cidRe      = regexp.MustCompile(`^b[a-z2-7]{50,60}$`)
	phoneRe    = regexp.MustCompile(`^\+[1-9][0-9]{0,14}$`)
)

// IsDID reports whether s is an accepted identity: did:phone: followed by
// 64 lowercase hex characters, or the legacy did:buds: form with a 1–44
// character base58 body.
func IsDID(s string) bool {
	if phoneDIDRe.MatchString(s) {
		return true
	}
	const budsPrefix = "did:buds:"
	if len(s) > len(budsPrefix) && s[:len(budsPrefix)] == budsPrefix {
		body := s[len(budsPrefix):]
		if len(body) > 44 {
			return false
		}
		_, err := base58.Decode(body)
		return err == nil
	}
	return false
}

// IsUUID reports whether s is a canonical UUIDv4 string.
func IsUUID(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	// uuid.Parse accepts urn: and braced forms; require the canonical one.
	return u.String() == s && u.Version() == 4
}

// IsCID reports whether s has the shape of a CIDv1 string: the multibase
// 'b' prefix followed by 50–60 lowercase base32 characters. Content
// integrity is checked separately against the actual bytes.
func IsCID(s string) bool {
	return cidRe.MatchString(s)
}

// IsBase64 reports whether s is a non-empty standard-alphabet base64
// string (padding optional).
func IsBase64(s string) bool {
	if s == "" {
		return false
	}
	if _, err := base64.StdEncoding.DecodeString(s); err == nil {
		return true
	}
	_, err := base64.RawStdEncoding.DecodeString(s)
	return err == nil
}

// IsSignature reports whether s is a base64-encoded 64-byte Ed25519
// signature.
func IsSignature(s string) bool {
	raw, ok := decodeBase64(s)
	return ok && len(raw) == 64
}

// IsPhone reports whether s is an E.164 phone number: '+' then 1–15
// digits with a non-zero leading digit.
func IsPhone(s string) bool {
	return phoneRe.MatchString(s)
}

// DecodeBase64 decodes a standard-alphabet base64 string with or without
// padding.
func DecodeBase64(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func decodeBase64(s string) ([]byte, bool) {
	raw, err := DecodeBase64(s)
	return raw, err == nil
}
