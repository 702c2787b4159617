package convkey

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeIsOrderIndependent(t *testing.T) {
	pairs := [][2]int{{3, 7}, {7, 3}, {1, 2}, {42, 5}, {100, 99}}
	for _, p := range pairs {
		assert.Equal(t, Encode(p[0], p[1]), Encode(p[1], p[0]))
	}
	assert.Equal(t, "3-7", Encode(7, 3))
	assert.Equal(t, "3-7", Encode(3, 7))
}

func TestDecodeRoundTrip(t *testing.T) {
	first, second, err := Decode(Encode(9, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, first)
	assert.Equal(t, 9, second)

	first, second, err = Decode("3-7")
	require.NoError(t, err)
	assert.Equal(t, 3, first)
	assert.Equal(t, 7, second)
}

func TestDecodeMalformed(t *testing.T) {
	for _, key := range []string{"abc", "", "3-7-9", "3-", "-7", "x-7", "3-y"} {
		_, _, err := Decode(key)
		require.Error(t, err, "key %q", key)
		assert.True(t, errors.Is(err, ErrMalformedKey), "key %q", key)
	}
}
