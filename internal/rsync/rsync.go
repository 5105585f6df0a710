// Package rsync adapts the librsync-go primitives to the three pure
// operations the synchronization core is built on: producing a signature of
// a file's content, diffing new content against a signature into a delta,
// and applying a delta to reconstruct new content from old.
package rsync

import (
	"bytes"
	"fmt"
	"io"

	librsync "github.com/balena-os/librsync-go"
)

const (
	blockLength      = 2048
	strongHashLength = 8
)

// Signature computes a rolling+strong-hash fingerprint of r's content,
// sufficient for a remote peer to compute a delta against.
func Signature(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	if _, err := librsync.Signature(r, &out, blockLength, strongHashLength, librsync.BLAKE2_SIG_MAGIC); err != nil {
		return nil, fmt.Errorf("compute signature: %w", err)
	}
	return out.Bytes(), nil
}

// Delta computes the byte-level diff of r's content against sig, a
// signature of some receiver's prior content.
func Delta(sig []byte, r io.Reader) ([]byte, error) {
	sigType, err := librsync.ReadSignature(bytes.NewReader(sig))
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}

	var out bytes.Buffer
	if err := librsync.Delta(sigType, r, &out); err != nil {
		return nil, fmt.Errorf("compute delta: %w", err)
	}
	return out.Bytes(), nil
}

// Patch reconstructs new content by applying delta to basis, the receiver's
// current content that the delta's signature was computed from.
func Patch(basis io.ReadSeeker, delta []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := librsync.Patch(basis, bytes.NewReader(delta), &out); err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	return out.Bytes(), nil
}
