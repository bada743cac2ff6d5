// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scandeps

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Header map (*.hmap) is a clang's binary file that maps include names
// to file paths, used for iOS/macOS frameworks.
// https://source.chromium.org/chromium/chromium/src/+/main:build/config/ios/write_framework_hmap.py
//
//	header:  magic "pamh", uint16 version=1, uint16 reserved,
//	         uint32 string_offset, uint32 string_count,
//	         uint32 hash_capacity, uint32 max_value_length
//	buckets: hash_capacity * {uint32 key, uint32 prefix, uint32 suffix}
//	strings: NUL terminated strings at string_offset. 0 is empty.
//
// All integers are little endian.

const hmapHeaderSize = 24

var (
	hmapMagic = []byte("pamh")

	errShortHeaderMap = errors.New("short hmap")
)

type hmapHeader struct {
	stringOffset uint32
	hashCapacity uint32
}

func parseHeaderMapHeader(buf []byte) (hmapHeader, error) {
	if !bytes.HasPrefix(buf, hmapMagic) {
		return hmapHeader{}, errors.New("wrong hmap magic")
	}
	if len(buf) < hmapHeaderSize {
		return hmapHeader{}, fmt.Errorf("header size=%d: %w", len(buf), errShortHeaderMap)
	}
	if version := binary.LittleEndian.Uint16(buf[4:]); version != 1 {
		return hmapHeader{}, fmt.Errorf("unknown hmap version %d", version)
	}
	return hmapHeader{
		stringOffset: binary.LittleEndian.Uint32(buf[8:]),
		hashCapacity: binary.LittleEndian.Uint32(buf[16:]),
	}, nil
}

// hmapString returns the string at offset i in strs.
func hmapString(strs []byte, i uint32) (string, error) {
	if i == 0 {
		return "", nil
	}
	if int64(i) >= int64(len(strs)) {
		return "", fmt.Errorf("string offset %d out of range %d", i, len(strs))
	}
	v := strs[i:]
	e := bytes.IndexByte(v, 0)
	if e < 0 {
		return "", fmt.Errorf("unterminated string at %d", i)
	}
	return string(v[:e]), nil
}

// HeaderMap maps include names to file paths.
type HeaderMap map[string]string

// Lookup returns the path for name. As clang does, keys are matched
// case-insensitively. An exact match wins, then the smallest
// case-insensitive match.
func (m HeaderMap) Lookup(name string) (string, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	var key string
	found := false
	for k := range m {
		if !strings.EqualFold(k, name) {
			continue
		}
		if !found || k < key {
			key, found = k, true
		}
	}
	if !found {
		return "", false
	}
	return m[key], true
}

// ParseHeaderMap parses *.hmap file content.
func ParseHeaderMap(ctx context.Context, buf []byte) (HeaderMap, error) {
	h, err := parseHeaderMapHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hmap header: %w", err)
	}
	if int64(len(buf)) < int64(h.stringOffset) {
		return nil, fmt.Errorf("invalid string_offset=%d hmap size=%d", h.stringOffset, len(buf))
	}
	strs := buf[h.stringOffset:]
	buckets := buf[hmapHeaderSize:]
	m := make(HeaderMap)
	for i := range int(h.hashCapacity) {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(buckets) < 12 {
			// truncated bucket array. entries so far are valid.
			break
		}
		var vals [3]string
		for j := range vals {
			vals[j], err = hmapString(strs, binary.LittleEndian.Uint32(buckets[4*j:]))
			if err != nil {
				return nil, fmt.Errorf("failed to get hmap bucket:%d: %w", i, err)
			}
		}
		buckets = buckets[12:]
		key, prefix, suffix := vals[0], vals[1], vals[2]
		if key != "" {
			m[key] = prefix + suffix
		}
	}
	return m, nil
}
