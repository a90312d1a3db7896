package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestChainDigestDeterministic(t *testing.T) {
	recordedAt := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	delta := decimal.NewFromFloat(12.5)
	resulting := decimal.NewFromFloat(112.5)

	first := ChainDigest(7, delta, resulting, recordedAt, GenesisHash, 1)
	second := ChainDigest(7, delta, resulting, recordedAt, GenesisHash, 1)

	require.Equal(t, first, second)
	require.Len(t, first, 64)
	require.Regexp(t, "^[0-9a-f]{64}$", first)
}

func TestChainDigestScaleInsensitive(t *testing.T) {
	recordedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	// 12.5 and 12.500 must hash identically: the digest renders quantities
	// at fixed scale.
	a := ChainDigest(7, decimal.RequireFromString("12.5"), decimal.RequireFromString("112.5"), recordedAt, GenesisHash, 1)
	b := ChainDigest(7, decimal.RequireFromString("12.500"), decimal.RequireFromString("112.500"), recordedAt, GenesisHash, 1)

	require.Equal(t, a, b)
}

func TestChainDigestChangesWithEveryField(t *testing.T) {
	recordedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	delta := decimal.NewFromInt(10)
	resulting := decimal.NewFromInt(110)
	base := ChainDigest(7, delta, resulting, recordedAt, GenesisHash, 1)

	require.NotEqual(t, base, ChainDigest(8, delta, resulting, recordedAt, GenesisHash, 1))
	require.NotEqual(t, base, ChainDigest(7, decimal.NewFromInt(11), resulting, recordedAt, GenesisHash, 1))
	require.NotEqual(t, base, ChainDigest(7, delta, decimal.NewFromInt(111), recordedAt, GenesisHash, 1))
	require.NotEqual(t, base, ChainDigest(7, delta, resulting, recordedAt.Add(time.Microsecond), GenesisHash, 1))
	require.NotEqual(t, base, ChainDigest(7, delta, resulting, recordedAt, "deadbeef", 1))
	require.NotEqual(t, base, ChainDigest(7, delta, resulting, recordedAt, GenesisHash, 2))
}

func TestChainDigestTimezoneNormalized(t *testing.T) {
	utc := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	offset := utc.In(time.FixedZone("UTC+7", 7*3600))

	require.Equal(t,
		ChainDigest(7, decimal.NewFromInt(1), decimal.NewFromInt(1), utc, GenesisHash, 1),
		ChainDigest(7, decimal.NewFromInt(1), decimal.NewFromInt(1), offset, GenesisHash, 1))
}

func TestChainTimestampPrecision(t *testing.T) {
	ts := chainTimestamp()

	require.Equal(t, time.UTC, ts.Location())
	require.Equal(t, ts, ts.Truncate(time.Microsecond))
}
