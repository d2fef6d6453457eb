// Package fingerprint computes content-derived file identities used for
// deduplication. A fingerprint is the sha256 of the full content plus the
// byte length; two uploads with equal fingerprints are treated as the same
// content regardless of name or owner.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/chunkdrive/chunkdrive/internal/common"
)

// Size is the length in bytes of a fingerprint hash.
const Size = sha256.Size

// Fingerprint identifies file content. Immutable once computed.
type Fingerprint struct {
	Hash         []byte
	DeclaredSize uint64
}

// Identify streams r through sha256 in a single forward pass, recording the
// total byte length. A mid-stream read error returns a wrapped
// common.ErrRead; no partial fingerprint is exposed.
func Identify(r io.Reader) (Fingerprint, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", common.ErrRead, err)
	}
	return Fingerprint{Hash: h.Sum(nil), DeclaredSize: uint64(n)}, nil
}

// ChecksumBytes returns the sha256 of a single chunk payload. Both client
// and server compute it; the server rejects on mismatch.
func ChecksumBytes(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// HexHash renders the hash for wire transport and object keys.
func (f Fingerprint) HexHash() string {
	return hex.EncodeToString(f.Hash)
}

// Equal reports whether two fingerprints identify the same content.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.DeclaredSize == other.DeclaredSize && bytes.Equal(f.Hash, other.Hash)
}

// ParseHex rebuilds a Fingerprint from its wire form.
func ParseHex(hexHash string, declaredSize uint64) (Fingerprint, error) {
	h, err := hex.DecodeString(hexHash)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint hash: %w", err)
	}
	if len(h) != Size {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint hash length: %d", len(h))
	}
	return Fingerprint{Hash: h, DeclaredSize: declaredSize}, nil
}
