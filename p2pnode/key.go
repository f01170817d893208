package p2pnode

import (
	"unicode/utf8"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

// errProtocolViolation is returned by cidToKey for a provider-record key
// that does not decode to a UTF-8 string, which cannot happen from any
// well-behaved node speaking this protocol. The event loop never decodes
// keys (see cidToKey), so this error never reaches or stops it.
var errProtocolViolation = errors.New("p2pnode: dht key is not valid utf-8")

// keyToCID renders a blob name as the DHT/provider-record key. Keys are
// raw UTF-8 blob names (spec.md §6), so they are embedded verbatim using
// the identity multihash rather than actually hashed -- this makes the
// mapping bijective and lets cidToKey recover the exact original string.
func keyToCID(key string) (cid.Cid, error) {
	mh, err := multihash.Sum([]byte(key), multihash.IDENTITY, -1)
	if err != nil {
		return cid.Undef, errors.Wrap(err, "p2pnode: encoding key")
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// cidToKey is unused by this node (it never needs to decode a CID it did
// not itself construct) but is kept alongside keyToCID for symmetry and
// exercised directly by tests asserting the encoding round-trips.
func cidToKey(c cid.Cid) (string, error) {
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return "", errors.Wrap(err, "p2pnode: decoding dht key")
	}
	if !utf8.Valid(decoded.Digest) {
		return "", errProtocolViolation
	}
	return string(decoded.Digest), nil
}
