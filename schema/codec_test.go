package schema

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codecFor(t *testing.T, k Kind) Codec {
	t.Helper()
	c, ok := NewRegistry().kinds[k]
	require.True(t, ok)
	return c
}

func TestUUIDCodec(t *testing.T) {
	c := codecFor(t, KindUUID)
	u := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	enc, err := c.Encode(u)
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", enc)

	dec, err := c.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, u, dec)

	dec, err = c.Decode([]byte("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	require.NoError(t, err)
	assert.Equal(t, u, dec)

	_, err = c.Encode("not-a-uuid")
	assert.Error(t, err)
	_, err = c.Encode(42)
	assert.Error(t, err)
}

func TestIntCodec(t *testing.T) {
	c := codecFor(t, KindInt)

	enc, err := c.Encode(int32(math.MaxInt32))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt32), enc)

	dec, err := c.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), dec)

	_, err = c.Encode(int64(math.MaxInt32) + 1)
	assert.Error(t, err)
	_, err = c.Decode(int64(math.MinInt32) - 1)
	assert.Error(t, err)
}

func TestLongCodec(t *testing.T) {
	c := codecFor(t, KindLong)

	enc, err := c.Encode(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), enc)

	dec, err := c.Decode(int64(math.MinInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), dec)
}

func TestStringCodec(t *testing.T) {
	c := codecFor(t, KindString)

	enc, err := c.Encode("héllo")
	require.NoError(t, err)
	assert.Equal(t, "héllo", enc)

	dec, err := c.Decode([]byte("héllo"))
	require.NoError(t, err)
	assert.Equal(t, "héllo", dec)

	_, err = c.Encode(1)
	assert.Error(t, err)
}

func TestDecimalCodec(t *testing.T) {
	c := codecFor(t, KindDecimal)
	d := decimal.RequireFromString("12345.6789")

	enc, err := c.Encode(d)
	require.NoError(t, err)
	assert.Equal(t, "12345.6789", enc)

	dec, err := c.Decode([]byte("12345.6789"))
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.(decimal.Decimal)))

	_, err = c.Encode("1.2.3")
	assert.Error(t, err)
}

func TestInstantCodec(t *testing.T) {
	c := codecFor(t, KindInstant)
	loc := time.FixedZone("UTC+2", 2*60*60)
	in := time.Date(2016, 12, 31, 23, 59, 59, 999999999, loc)

	enc, err := c.Encode(in)
	require.NoError(t, err)
	out := enc.(time.Time)
	assert.Equal(t, time.UTC, out.Location())
	assert.Equal(t, in.UTC().Truncate(time.Microsecond), out)

	dec, err := c.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, out, dec)
}

func TestCodecOverride(t *testing.T) {
	upper := Codec{
		Encode: func(v any) (any, error) { return v, nil },
		Decode: func(v any) (any, error) { return v, nil },
	}
	s, err := New(nil, []Attr{
		{Key: "account/id", Kind: KindUUID, Identity: true},
		{Key: "account/name", Kind: KindString, Codec: &upper},
	})
	require.NoError(t, err)
	c, ok := s.Codec("account/name")
	require.True(t, ok)
	v, err := c.Encode(42)
	require.NoError(t, err)
	assert.Equal(t, 42, v, "override must replace the kind default")
}

func TestEncodeDecodeID(t *testing.T) {
	s, err := New(nil, testAttrs())
	require.NoError(t, err)

	u := uuid.New()
	enc, err := s.EncodeID("account/id", u)
	require.NoError(t, err)
	assert.Equal(t, u.String(), enc)

	dec, err := s.DecodeID("account/id", enc)
	require.NoError(t, err)
	assert.Equal(t, u, dec)

	_, err = s.EncodeID("nope/id", u)
	assert.Error(t, err)
}
