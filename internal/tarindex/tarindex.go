// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tarindex builds a persistent table-of-contents for a tar
// stream while an EntryCursor walks it forward, exactly once. The
// index is keyed by archive digest plus entry name, so a later
// process over the same archive bytes can answer "does this archive
// contain path P, and what's its size/checksum" without a second
// forward pass.
package tarindex

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
)

// Record is one entry's indexed facts.
type Record struct {
	Offset   int64  // byte offset of the entry's header within the archive
	Size     int64  // on-disk payload size, per tarcursor.Entry.Size
	RealSize int64  // logical size, per tarcursor.Entry.RealSize
	Checksum uint64 // xxhash of the entry's decoded payload bytes
}

// Index persists Records into a pebble database, namespaced by
// archive digest so multiple archives can share one on-disk store.
type Index struct {
	db *pebble.DB
}

// Open opens (creating if absent) a pebble-backed index at dir.
func Open(dir string) (*Index, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("tarindex: open %s: %w", dir, err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying pebble database.
func (ix *Index) Close() error { return ix.db.Close() }

// Put stores rec under (digest, name), overwriting any prior record.
func (ix *Index) Put(digest, name string, rec Record) error {
	return ix.db.Set(recordKey(digest, name), encodeRecord(rec), pebble.Sync)
}

// Get retrieves the record for (digest, name), if present.
func (ix *Index) Get(digest, name string) (Record, bool, error) {
	v, closer, err := ix.db.Get(recordKey(digest, name))
	if err == pebble.ErrNotFound {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	defer closer.Close()
	rec, ok := decodeRecord(v)
	return rec, ok, nil
}

// NewChecksummer returns a fresh xxhash state for summarizing one
// entry's payload bytes as they stream through EntryCursor.Read.
func NewChecksummer() *xxhash.Digest { return xxhash.New() }

func recordKey(digest, name string) []byte {
	return append([]byte(digest+"\x00"), name...)
}

const recordLen = 8 * 4

func encodeRecord(r Record) []byte {
	buf := make([]byte, recordLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.Offset))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.Size))
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.RealSize))
	binary.BigEndian.PutUint64(buf[24:32], r.Checksum)
	return buf
}

func decodeRecord(buf []byte) (Record, bool) {
	if len(buf) != recordLen {
		return Record{}, false
	}
	return Record{
		Offset:   int64(binary.BigEndian.Uint64(buf[0:8])),
		Size:     int64(binary.BigEndian.Uint64(buf[8:16])),
		RealSize: int64(binary.BigEndian.Uint64(buf[16:24])),
		Checksum: binary.BigEndian.Uint64(buf[24:32]),
	}, true
}
