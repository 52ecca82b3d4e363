package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint is a 32-byte BLAKE3 digest. All fingerprint levels use this
// size; the hex form is the canonical representation in storage and APIs.
type Fingerprint [32]byte

// String returns the hex-encoded form of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint is the zero value.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalJSON encodes the fingerprint as its hex string form.
func (f Fingerprint) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes a hex string fingerprint.
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFingerprint(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFingerprint parses a 64-character hex string into a Fingerprint.
func ParseFingerprint(hexString string) (Fingerprint, error) {
	var fp Fingerprint
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return fp, fmt.Errorf("parsing fingerprint: %w", err)
	}
	if len(decoded) != 32 {
		return fp, fmt.Errorf("fingerprint is %d bytes, want 32", len(decoded))
	}
	copy(fp[:], decoded)
	return fp, nil
}

// FingerprintSet holds the four hash levels derived from one event.
// Template is the primary clustering key.
type FingerprintSet struct {
	Exact    Fingerprint `json:"exact"`    // raw message
	Template Fingerprint `json:"template"` // normalized template
	Semantic Fingerprint `json:"semantic"` // exception type + category + template
	Category Fingerprint `json:"category"` // exception type + category
}
