package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GenesisHash is the previous-hash sentinel for the first entry of a chain.
// It is a fixed constant: changing it would invalidate every existing chain.
const GenesisHash = "GENESIS"

// hashTimeLayout fixes the timestamp serialization used as digest input.
// UTC with microsecond precision, which survives a timestamptz round trip,
// so recomputing a digest from stored columns reproduces it byte for byte.
const hashTimeLayout = "2006-01-02T15:04:05.000000Z"

// quantityScale is the fractional precision of all ledger quantities,
// matching the NUMERIC(12,3) columns.
const quantityScale = 3

// ChainDigest computes the entry digest over the chain-critical fields plus
// the previous entry's digest. Deterministic: quantities are rendered at
// fixed scale and the timestamp with a fixed layout, so the same inputs
// always yield the same lowercase 64-character hex string.
func ChainDigest(productID int64, delta, resulting decimal.Decimal, recordedAt time.Time, previousHash string, sequence int64) string {
	payload := fmt.Sprintf("%d|%s|%s|%s|%s|%d",
		productID,
		delta.StringFixed(quantityScale),
		resulting.StringFixed(quantityScale),
		recordedAt.UTC().Format(hashTimeLayout),
		previousHash,
		sequence,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// chainTimestamp captures the current time at the precision the digest uses.
// Captured once per entry and never recomputed.
func chainTimestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
