package codec_test

import (
	"shardvault/internal/codec"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string            `cbor:"name"`
	Tags  []string          `cbor:"tags"`
	Attrs map[string]uint64 `cbor:"attrs"`
	Blob  []byte            `cbor:"blob"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	t.Parallel()

	a := record{Name: "x", Attrs: map[string]uint64{"b": 2, "a": 1, "c": 3}}
	b := record{Name: "x", Attrs: map[string]uint64{"c": 3, "a": 1, "b": 2}}

	ea, err := codec.Marshal(a)
	require.NoError(t, err, "Marshal error")
	eb, err := codec.Marshal(b)
	require.NoError(t, err, "Marshal error")
	require.Equal(t, ea, eb, "map ordering should not affect encoding")
}

func TestNilAndEmptyEncodeAlike(t *testing.T) {
	t.Parallel()

	withNil, err := codec.Marshal(record{Name: "x"})
	require.NoError(t, err, "Marshal error")
	withEmpty, err := codec.Marshal(record{Name: "x", Tags: []string{}, Attrs: map[string]uint64{}, Blob: []byte{}})
	require.NoError(t, err, "Marshal error")
	require.Equal(t, withNil, withEmpty, "nil and empty containers should encode identically")

	var back record
	require.NoError(t, codec.Unmarshal(withNil, &back), "Unmarshal error")
	again, err := codec.Marshal(back)
	require.NoError(t, err, "Marshal error")
	require.Equal(t, withNil, again, "decode then encode should be stable")
}
