package digest_test

import (
	"encoding/json"
	"shardvault/internal/digest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumIsDeterministic(t *testing.T) {
	t.Parallel()

	a := digest.Sum([]byte("hello"), []byte(" world"))
	b := digest.Sum([]byte("hello world"))
	require.Equal(t, a, b, "split input should hash like the concatenation")
	require.False(t, a.IsZero(), "digest should not be zero")
	require.NotEqual(t, a, digest.Sum([]byte("hello world!")), "different input should differ")
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	h := digest.Sum([]byte("payload"))
	parsed, err := digest.Parse(h.String())
	require.NoError(t, err, "Parse error")
	require.Equal(t, h, parsed, "parsed hash mismatch")

	parsed, err = digest.Parse(strings.ToUpper(h.String()))
	require.NoError(t, err, "Parse should accept uppercase hex")
	require.Equal(t, h, parsed, "uppercase parse mismatch")
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := digest.Parse("abcd")
	require.Error(t, err, "short input should fail")

	_, err = digest.Parse(strings.Repeat("zz", digest.Size))
	require.Error(t, err, "non-hex input should fail")
}

func TestKeyedRequiresThirtyTwoByteKey(t *testing.T) {
	t.Parallel()

	_, err := digest.Keyed([]byte("short"), []byte("x"))
	require.Error(t, err, "short key should fail")

	key := digest.Sum([]byte("key"))
	a, err := digest.Keyed(key[:], []byte("x"))
	require.NoError(t, err, "Keyed error")
	require.NotEqual(t, digest.Sum([]byte("x")), a, "keyed hash should differ from plain hash")
}

func TestHashJSONIsHex(t *testing.T) {
	t.Parallel()

	h := digest.Sum([]byte("json"))
	out, err := json.Marshal(h)
	require.NoError(t, err, "Marshal error")
	require.Equal(t, `"`+h.String()+`"`, string(out), "hash should render as hex")

	var back digest.Hash
	require.NoError(t, json.Unmarshal(out, &back), "Unmarshal error")
	require.Equal(t, h, back, "json round trip mismatch")
}

func TestDeriveConcatenatesParts(t *testing.T) {
	t.Parallel()

	whole := digest.Derive("ctx", []byte("hello world"))
	require.Equal(t, whole, digest.Derive("ctx", []byte("hello "), []byte("world")), "parts are concatenated")
	require.NotEqual(t, whole, digest.Derive("other ctx", []byte("hello world")), "context separates keys")
}
