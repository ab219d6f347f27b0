// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blockcache caches fixed-size chunks of a forward-only byte
// stream, keyed by a caller-chosen identity and the chunk's starting
// offset. It exists for tools layered on top of a single EntryCursor
// pass that want to answer a second question — "what's at offset X
// of this archive's decompressed bytes" — without paying to
// decompress from the start again.
//
// It does not provide random access itself: the Source a Cache wraps
// is still only read forward, once, from offset 0. The cache simply
// remembers chunks it has already seen so a second, logically
// independent scan that re-requests an earlier chunk is served from
// memory.
package blockcache

import (
	"fmt"
	"hash/maphash"
	"io"
	"sync"

	"github.com/dgryski/go-tinylfu"
)

// ChunkSize is the granularity at which chunks are cached. Chosen as
// a multiple of the historical tar record size so a single cache
// entry always holds a whole number of records.
const ChunkSize = 512 * 64

// Source is a forward-only byte stream a Cache drives exactly once,
// start to finish, regardless of how many Caches read from it.
type Source interface {
	io.Reader
}

// chunk holds up to ChunkSize bytes read from a Source starting at a
// chunk-aligned offset, plus how many of those bytes are real: the
// final chunk of a Source shorter than a whole number of chunks is
// padded with unused capacity, not zero-filled data.
type chunk struct {
	buf [ChunkSize]byte
	n   int
}

type key struct {
	id  string
	off int64
}

// Cache wraps a Source, caching every chunk it pulls from it so that
// ReadAt can serve previously-seen offsets without re-reading the
// source. ReadAt calls are serialized on an internal mutex. Each Cache
// owns its own tinylfu cache: two Caches never share chunks, even
// when they are created with the same id.
type Cache struct {
	id  string
	src Source
	pos int64 // bytes pulled from src so far
	eof bool
	mu  *sync.Mutex
	lfu *tinylfu.T[key, *chunk]
}

var seed = maphash.MakeSeed()

// New returns a Cache over src, identified by id (used to namespace
// cache entries so two different archives sharing a process don't
// collide). capacity bounds the number of ChunkSize chunks retained.
func New(id string, src Source, capacity int) *Cache {
	return &Cache{
		id:  id,
		src: src,
		mu:  new(sync.Mutex),
		lfu: tinylfu.New[key, *chunk](capacity, capacity*10, hashKey),
	}
}

func hashKey(k key) uint64 { return maphash.Comparable(seed, k) }

// ReadAt serves p from the chunk(s) covering [off, off+len(p)), pulling
// new chunks forward from the source as needed. It cannot serve an
// offset before any chunk already evicted from the cache, nor can it
// skip ahead of the source's current position without first reading
// (and caching) everything in between.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for total < len(p) {
		chunkOff := (off + int64(total)) &^ (ChunkSize - 1)
		ck, err := c.chunkAt(chunkOff)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return total, err
		}
		start := int(off+int64(total) - chunkOff)
		if start >= ck.n {
			if total > 0 {
				return total, nil
			}
			return total, io.EOF
		}
		total += copy(p[total:], ck.buf[start:ck.n])
	}
	return total, nil
}

// chunkAt returns the ChunkSize-aligned chunk starting at chunkOff,
// pulling it from the source and advancing c.pos if it hasn't been
// read yet.
func (c *Cache) chunkAt(chunkOff int64) (*chunk, error) {
	k := key{id: c.id, off: chunkOff}
	if ck, ok := c.lfu.Get(k); ok {
		return ck, nil
	}
	if c.eof && chunkOff >= c.pos {
		return nil, io.EOF
	}
	if chunkOff < c.pos {
		return nil, fmt.Errorf("blockcache: offset %d already evicted", chunkOff)
	}
	if chunkOff > c.pos {
		return nil, fmt.Errorf("blockcache: offset %d not yet reachable (at %d)", chunkOff, c.pos)
	}

	ck := new(chunk)
	n, err := io.ReadFull(c.src, ck.buf[:])
	ck.n = n
	if n > 0 {
		c.lfu.Add(k, ck)
		c.pos += int64(n)
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		c.eof = true
		err = nil
	}
	if n == 0 {
		return nil, io.EOF
	}
	return ck, err
}
