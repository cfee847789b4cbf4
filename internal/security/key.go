package security

import (
	"encoding/hex"
	"fmt"
	"runtime"

	"vaultlite/internal/constants"
)

// EncryptionKey is an owned secret byte buffer. It is deliberately not
// Clone-able: the raw bytes live in exactly one place and are wiped when
// Zeroize is called (or when the owning scope defers it). The key never
// appears in logs, error messages or debug output: String, Format and
// MarshalJSON all redact.
type EncryptionKey struct {
	raw    []byte
	zeroed bool
}

// NewKey takes ownership of raw and wipes the caller's slice so the secret
// exists in a single buffer. The key must be exactly 32 bytes.
func NewKey(raw []byte) (*EncryptionKey, error) {
	if len(raw) != constants.KeySizeBytes {
		Wipe(raw)
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", constants.KeySizeBytes, len(raw))
	}
	owned := make([]byte, len(raw))
	copy(owned, raw)
	Wipe(raw)
	return &EncryptionKey{raw: owned}, nil
}

// KeyFromHex parses a hex-encoded 32-byte key
func KeyFromHex(s string) (*EncryptionKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key encoding")
	}
	return NewKey(raw)
}

// Bytes exposes the raw key for derivation-adjacent code paths. Callers
// must not retain the slice past the key's lifetime.
func (k *EncryptionKey) Bytes() []byte {
	return k.raw
}

// Hex returns the hex encoding of the key for pragma assembly. The returned
// string is itself sensitive; build the pragma and let it go out of scope.
func (k *EncryptionKey) Hex() string {
	return hex.EncodeToString(k.raw)
}

// Len returns the key length in bytes
func (k *EncryptionKey) Len() int {
	return len(k.raw)
}

// Zeroized reports whether the key material has been wiped
func (k *EncryptionKey) Zeroized() bool {
	return k.zeroed
}

// Zeroize overwrites the key material with zeros. Safe to call more than
// once; every owning scope should defer it.
func (k *EncryptionKey) Zeroize() {
	Wipe(k.raw)
	k.zeroed = true
}

// Equal compares two keys in constant length-then-bytes fashion. Used only
// by tests; production code never needs to compare keys.
func (k *EncryptionKey) Equal(other *EncryptionKey) bool {
	if k.Len() != other.Len() {
		return false
	}
	var diff byte
	for i := range k.raw {
		diff |= k.raw[i] ^ other.raw[i]
	}
	return diff == 0
}

// String implements fmt.Stringer and always redacts
func (k *EncryptionKey) String() string {
	return "EncryptionKey(***)"
}

// Format implements fmt.Formatter so %v, %+v, %#v and %s all redact
func (k *EncryptionKey) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, k.String())
}

// MarshalJSON redacts the key in any serialized structure
func (k *EncryptionKey) MarshalJSON() ([]byte, error) {
	return []byte(`"***"`), nil
}

// Wipe overwrites a byte slice with zeros in a way the compiler cannot
// optimize away.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// WipeString is a best-effort helper for transient secret strings built
// during pragma assembly. Go strings are immutable, so the contract here is
// narrower: callers should prefer keeping secrets in []byte and use Wipe.
func WipeString(s *string) {
	*s = ""
}
