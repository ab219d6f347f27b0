// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decompressioncache memoizes the result of scanning an
// archive's entry listing, keyed by a caller-supplied digest of the
// archive's bytes (see package tarindex). Walking an EntryCursor from
// end to end to build a listing is the expensive part of "list an
// archive's contents"; a repeated request for the same archive within
// the cache's lifetime is served without a second pass.
package decompressioncache

import (
	"context"
	"fmt"

	"github.com/allegro/bigcache/v3"
)

// Summary is the cached result of one full EntryCursor pass: just
// enough to answer a listing request without re-decoding headers.
type Summary struct {
	Names []string
	Sizes []int64
}

// Cache is a process-wide, size-bounded store of Summary values keyed
// by archive digest.
type Cache struct {
	bc *bigcache.BigCache
}

// New constructs a Cache holding up to maxMB megabytes of cached
// summaries, evicting least-recently-used entries once full.
func New(ctx context.Context, maxMB int) (*Cache, error) {
	bc, err := bigcache.New(ctx, bigcache.Config{
		HardMaxCacheSize: maxMB,
		Shards:           1024,
	})
	if err != nil {
		return nil, fmt.Errorf("decompressioncache: %w", err)
	}
	return &Cache{bc: bc}, nil
}

// Get returns the cached summary for digest, if present.
func (c *Cache) Get(digest string) (Summary, bool) {
	raw, err := c.bc.Get(digest)
	if err != nil {
		return Summary{}, false
	}
	return decodeSummary(raw), true
}

// Put stores s under digest, overwriting any prior entry.
func (c *Cache) Put(digest string, s Summary) error {
	return c.bc.Set(digest, encodeSummary(s))
}

// encodeSummary/decodeSummary use a tiny length-prefixed record
// format rather than a general serialization library: Summary has
// exactly two parallel slices and no nested structure, so pulling in
// a marshaler here would be pure overhead.
func encodeSummary(s Summary) []byte {
	buf := make([]byte, 0, 64*len(s.Names))
	for i, name := range s.Names {
		buf = appendVarint(buf, int64(len(name)))
		buf = append(buf, name...)
		buf = appendVarint(buf, s.Sizes[i])
	}
	return buf
}

func decodeSummary(buf []byte) Summary {
	var s Summary
	for len(buf) > 0 {
		nameLen, n := readVarint(buf)
		buf = buf[n:]
		if int(nameLen) > len(buf) {
			break
		}
		name := string(buf[:nameLen])
		buf = buf[nameLen:]
		size, n := readVarint(buf)
		buf = buf[n:]
		s.Names = append(s.Names, name)
		s.Sizes = append(s.Sizes, size)
	}
	return s
}

func appendVarint(buf []byte, v int64) []byte {
	u := uint64(v)
	for u >= 0x80 {
		buf = append(buf, byte(u)|0x80)
		u >>= 7
	}
	return append(buf, byte(u))
}

func readVarint(buf []byte) (int64, int) {
	var u uint64
	var shift uint
	for i, b := range buf {
		u |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return int64(u), i + 1
		}
		shift += 7
	}
	return 0, len(buf)
}
