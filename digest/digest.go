// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package digest computes content digests of source and header files.
//
// The digest form follows the Digest message of remote execution API,
// i.e. sha256 hex hash and size in bytes, so that the recorded file
// hashes are comparable with other tools' digests.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	rpb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// Digest is a content digest of a file.
type Digest struct {
	Hash      string `json:"hash,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// IsZero returns true when the digest is zero value, i.e. not computed.
func (d Digest) IsZero() bool {
	return d.Hash == ""
}

// String returns `hash/size` form of the digest.
func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.SizeBytes)
}

// Proto returns the proto form of the digest.
func (d Digest) Proto() *rpb.Digest {
	if d.IsZero() {
		return nil
	}
	return &rpb.Digest{
		Hash:      d.Hash,
		SizeBytes: d.SizeBytes,
	}
}

// FromProto converts proto form to Digest.
func FromProto(d *rpb.Digest) Digest {
	if d == nil {
		return Digest{}
	}
	return Digest{
		Hash:      d.Hash,
		SizeBytes: d.SizeBytes,
	}
}

// FromBytes computes a digest of b.
func FromBytes(b []byte) Digest {
	h := sha256.Sum256(b)
	return Digest{
		Hash:      hex.EncodeToString(h[:]),
		SizeBytes: int64(len(b)),
	}
}

// FromReader computes a digest of the content read from r.
func FromReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, err
	}
	return Digest{
		Hash:      hex.EncodeToString(h.Sum(nil)),
		SizeBytes: n,
	}, nil
}

// FromLocalFile computes a digest of the local file fname.
// It returns an error wrapping fs.ErrNotExist if the file doesn't exist.
func FromLocalFile(fname string) (Digest, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Digest{}, err
	}
	d, err := FromReader(f)
	cerr := f.Close()
	if err != nil {
		return Digest{}, fmt.Errorf("read %s: %w", fname, err)
	}
	if cerr != nil {
		return Digest{}, errors.Join(cerr, err)
	}
	return d, nil
}
