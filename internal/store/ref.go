// Package store implements the byte-level nw.BlobStore backends and the
// content addressing they share. References are CIDv1 strings (raw codec,
// sha2-256), so any backend can verify the bytes it returns.
package store

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"newswave/internal/nw"
)

// ComputeRef returns the CIDv1 (raw + sha2-256) reference of data.
func ComputeRef(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// ParseRef decodes ref. A string that is not a CID cannot name any stored
// content, so the error wraps nw.ErrContentNotFound.
func ParseRef(ref string) (cid.Cid, error) {
	c, err := cid.Decode(ref)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: malformed reference %q: %v", nw.ErrContentNotFound, ref, err)
	}
	return c, nil
}

// VerifyRef checks that data hashes to ref. References with a codec other
// than raw (for example dag-pb references issued by an IPFS node) address a
// DAG rather than the bytes and are accepted as-is.
func VerifyRef(ref string, data []byte) error {
	c, err := ParseRef(ref)
	if err != nil {
		return err
	}
	if c.Type() != cid.Raw {
		return nil
	}
	got, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("%w: hashing content: %v", nw.ErrContentCorrupt, err)
	}
	if !got.Equals(c) {
		return fmt.Errorf("%w: content does not match reference %s", nw.ErrContentCorrupt, ref)
	}
	return nil
}
