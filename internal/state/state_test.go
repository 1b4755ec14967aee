package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRoundTrip(t *testing.T) {
	codec := New("")

	cases := []map[string]string{
		{},
		{"state": "abc"},
		{"state": "abc", "exchange": "k123", "instance": "https://mastodon.social/"},
		{"state": "with spaces & ?query=chars#frag"},
		{"state": "unicode: héllo — ünïcode"},
	}
	for _, fields := range cases {
		enc, err := codec.Encode(fields)
		require.NoError(t, err)
		dec, err := codec.Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, fields, dec)
	}
}

func TestPlainEncodeDeterministic(t *testing.T) {
	codec := New("")
	a, err := codec.Encode(map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	b, err := codec.Encode(map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlainDecodeMalformed(t *testing.T) {
	codec := New("")
	for _, s := range []string{"", "!!!not-base64!!!", "bm90IGpzb24", "WyJhcnJheSJd"} {
		_, err := codec.Decode(s)
		assert.ErrorIs(t, err, ErrMalformedState, "input %q", s)
	}
}

func TestSignedRoundTrip(t *testing.T) {
	codec := New("topsecret")

	fields := map[string]string{"state": "abc", "exchange": "k1"}
	enc, err := codec.Encode(fields)
	require.NoError(t, err)

	dec, err := codec.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, fields, dec)
}

func TestSignedRejectsTampering(t *testing.T) {
	codec := New("topsecret")
	enc, err := codec.Encode(map[string]string{"state": "abc"})
	require.NoError(t, err)

	// Flip a byte in the payload
	tampered := []byte(enc)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}
	_, err = codec.Decode(string(tampered))
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestSignedRejectsOtherKey(t *testing.T) {
	enc, err := New("key-one").Encode(map[string]string{"state": "abc"})
	require.NoError(t, err)

	_, err = New("key-two").Decode(enc)
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestSignedRejectsPlain(t *testing.T) {
	enc, err := New("").Encode(map[string]string{"state": "abc"})
	require.NoError(t, err)

	_, err = New("topsecret").Decode(enc)
	assert.ErrorIs(t, err, ErrMalformedState)
}
