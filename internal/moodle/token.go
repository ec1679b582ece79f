package moodle

import (
	"encoding/hex"
	"fmt"
)

// tokenBytes is the decoded length of a Moodle web-service token.
const tokenBytes = 16

// Token is a Moodle web-service access token: exactly 32 hex characters,
// semantically 16 raw bytes. The zero value is invalid; construct via
// ParseToken, which enforces the format before any network use.
//
// Tokens are secrets. The raw value is only reachable through Secret and is
// excluded from String and %v formatting so it cannot leak into logs.
type Token struct {
	value string
}

// ParseToken validates the syntactic token format: hex-decodable and exactly
// 16 bytes long. This is a pure check — no network calls.
func ParseToken(s string) (Token, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("moodle token is not a hex string")
	}
	if len(raw) != tokenBytes {
		return Token{}, fmt.Errorf("moodle token must decode to %d bytes, got %d", tokenBytes, len(raw))
	}
	return Token{value: s}, nil
}

// Secret returns the raw token value for transmission to Moodle or Vault.
func (t Token) Secret() string { return t.value }

// IsZero reports whether the token is the invalid zero value.
func (t Token) IsZero() bool { return t.value == "" }

// String returns a redacted placeholder.
func (t Token) String() string { return "[redacted moodle token]" }
