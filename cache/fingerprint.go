package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/achetronic/ldapdoxy/codec"
)

// Fingerprint canonicalizes a searchRequest payload into a cache key: the
// SHA-256 of the searchRequest's BER re-encoding with messageID zeroed out.
// Two requests are fingerprint-equal iff their base DN, scope,
// deref-aliases, size/time limits, types-only flag, filter tree and
// attribute list — post in-filter mutation — are identical.
func Fingerprint(msg *codec.Message) string {
	// codec.Encode rebuilds Operation from its current Children, so a child
	// an in-filter replaced is part of the key. Controls are left out.
	wire := codec.Encode(&codec.Message{Op: msg.Op, Operation: msg.Operation}, 0)

	sum := sha256.Sum256(wire)
	return hex.EncodeToString(sum[:])
}
