package p2pnode

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyToCIDRoundTrip(t *testing.T) {
	for _, key := range []string{"hello", "a/b/c", "", "unicode-éè"} {
		c, err := keyToCID(key)
		require.NoError(t, err)

		got, err := cidToKey(c)
		require.NoError(t, err)
		assert.Equal(t, key, got)
	}
}

func TestCidToKeyRejectsNonUTF8(t *testing.T) {
	mh, err := multihash.Sum([]byte{0xff, 0xfe, 0xfd}, multihash.IDENTITY, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, mh)

	_, err = cidToKey(c)
	require.ErrorIs(t, err, errProtocolViolation)
}

func TestKeyToCIDDistinctKeysDistinctCIDs(t *testing.T) {
	a, err := keyToCID("alpha")
	require.NoError(t, err)
	b, err := keyToCID("beta")
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), b.String())
}
