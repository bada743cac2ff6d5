// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package incremental

import (
	"errors"
	"fmt"

	rpb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"go.chromium.org/infra/build/ccdeps/digest"
)

// Wire format of a persisted CompilationState.
//
//	message State {
//	  string build_id = 1;
//	  build.bazel.remote.execution.v2.Digest config_hash = 2;
//	  repeated string sources = 3;
//	  repeated File files = 4;
//	}
//	message File {
//	  string name = 1;
//	  build.bazel.remote.execution.v2.Digest hash = 2;
//	  bool has_unresolved = 3;
//	  repeated Edge edges = 4;
//	}
//	message Edge {
//	  string included_by = 1;
//	  string include_path = 2;
//	  string file = 3;
//	  build.bazel.remote.execution.v2.Digest hash = 4;
//	}
const (
	stateBuildID    protowire.Number = 1
	stateConfigHash protowire.Number = 2
	stateSources    protowire.Number = 3
	stateFiles      protowire.Number = 4

	fileName          protowire.Number = 1
	fileHash          protowire.Number = 2
	fileHasUnresolved protowire.Number = 3
	fileEdges         protowire.Number = 4

	edgeIncludedBy  protowire.Number = 1
	edgeIncludePath protowire.Number = 2
	edgeFile        protowire.Number = 3
	edgeHash        protowire.Number = 4
)

var errMalformedState = errors.New("malformed state")

// marshalState encodes s in the wire format.
func marshalState(s *CompilationState) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, stateBuildID, protowire.BytesType)
	b = protowire.AppendString(b, s.BuildID)
	b, err := appendDigest(b, stateConfigHash, s.ConfigHash)
	if err != nil {
		return nil, err
	}
	for _, src := range s.sources {
		b = protowire.AppendTag(b, stateSources, protowire.BytesType)
		b = protowire.AppendString(b, src)
	}
	for _, fname := range s.Files() {
		fb, err := marshalFile(fname, s.files[fname])
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", fname, err)
		}
		b = protowire.AppendTag(b, stateFiles, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b, nil
}

func marshalFile(fname string, st *SourceFileState) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fileName, protowire.BytesType)
	b = protowire.AppendString(b, fname)
	b, err := appendDigest(b, fileHash, st.Hash)
	if err != nil {
		return nil, err
	}
	if st.HasUnresolved {
		b = protowire.AppendTag(b, fileHasUnresolved, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	for _, e := range st.Edges {
		var eb []byte
		eb = protowire.AppendTag(eb, edgeIncludedBy, protowire.BytesType)
		eb = protowire.AppendString(eb, e.IncludedBy)
		eb = protowire.AppendTag(eb, edgeIncludePath, protowire.BytesType)
		eb = protowire.AppendString(eb, e.IncludePath)
		eb = protowire.AppendTag(eb, edgeFile, protowire.BytesType)
		eb = protowire.AppendString(eb, e.File)
		eb, err = appendDigest(eb, edgeHash, e.Hash)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fileEdges, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	return b, nil
}

func appendDigest(b []byte, num protowire.Number, d digest.Digest) ([]byte, error) {
	if d.IsZero() {
		return b, nil
	}
	db, err := proto.Marshal(d.Proto())
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, db), nil
}

// fieldFunc handles a length-delimited or varint field.
type fieldFunc func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error

// consumeMessage iterates fields of b.
func consumeMessage(b []byte, f fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformedState, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", errMalformedState, num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := f(num, typ, v, 0); err != nil {
				return err
			}
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", errMalformedState, num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := f(num, typ, nil, x); err != nil {
				return err
			}
		default:
			// unknown field.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", errMalformedState, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func unmarshalDigest(b []byte) (digest.Digest, error) {
	d := &rpb.Digest{}
	if err := proto.Unmarshal(b, d); err != nil {
		return digest.Digest{}, fmt.Errorf("%w: digest: %v", errMalformedState, err)
	}
	return digest.FromProto(d), nil
}

// unmarshalState decodes b in the wire format.
func unmarshalState(b []byte) (*CompilationState, error) {
	s := EmptyState()
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case stateBuildID:
			s.BuildID = string(v)
		case stateConfigHash:
			d, err := unmarshalDigest(v)
			if err != nil {
				return err
			}
			s.ConfigHash = d
		case stateSources:
			s.sources = append(s.sources, string(v))
		case stateFiles:
			fname, st, err := unmarshalFile(v)
			if err != nil {
				return err
			}
			s.files[fname] = st
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, src := range s.sources {
		if _, ok := s.files[src]; !ok {
			return nil, fmt.Errorf("%w: no state for source %s", errMalformedState, src)
		}
	}
	return s, nil
}

func unmarshalFile(b []byte) (string, *SourceFileState, error) {
	var fname string
	st := &SourceFileState{}
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fileName && typ == protowire.BytesType:
			fname = string(v)
		case num == fileHash && typ == protowire.BytesType:
			d, err := unmarshalDigest(v)
			if err != nil {
				return err
			}
			st.Hash = d
		case num == fileHasUnresolved && typ == protowire.VarintType:
			st.HasUnresolved = protowire.DecodeBool(x)
		case num == fileEdges && typ == protowire.BytesType:
			e, err := unmarshalEdge(v)
			if err != nil {
				return err
			}
			st.Edges = append(st.Edges, e)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if fname == "" {
		return "", nil, fmt.Errorf("%w: file without name", errMalformedState)
	}
	return fname, st, nil
}

func unmarshalEdge(b []byte) (IncludeFileEdge, error) {
	var e IncludeFileEdge
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case edgeIncludedBy:
			e.IncludedBy = string(v)
		case edgeIncludePath:
			e.IncludePath = string(v)
		case edgeFile:
			e.File = string(v)
		case edgeHash:
			d, err := unmarshalDigest(v)
			if err != nil {
				return err
			}
			e.Hash = d
		}
		return nil
	})
	return e, err
}
