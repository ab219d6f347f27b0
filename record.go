// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tarcursor

import "io"

// recordReader reads fixed-size records from the underlying byte
// source, detects the terminating all-zero record(s), and consumes
// trailing block padding. It is the framing layer: everything above
// it deals in decoded headers and payload bytes, never raw records.
type recordReader struct {
	src        byteSource
	recordSize int
	blockSize  int
	counter    ByteCounter
	consumed   int64 // total bytes pulled from src, for block-alignment accounting
}

func newRecordReader(src byteSource, cfg *Config) *recordReader {
	return &recordReader{
		src:        src,
		recordSize: cfg.RecordSize,
		blockSize:  cfg.BlockSize,
		counter:    cfg.Counter,
	}
}

// readRecord returns a fully populated record-sized buffer, or nil if
// the source could not supply a full record. A short read at the tail
// is treated as EOF, not an error.
func (r *recordReader) readRecord() ([]byte, error) {
	buf := make([]byte, r.recordSize)
	n, err := io.ReadFull(r.src.Reader, buf)
	r.consumed += int64(n)
	r.counter.Add(int64(n))
	if n < r.recordSize {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil
		}
		return nil, newErr("read_record", ErrTruncated, err)
	}
	return buf, nil
}

// isEOFRecord returns true iff every byte in buf is zero, or buf is
// absent.
func isEOFRecord(buf []byte) bool {
	if buf == nil {
		return true
	}
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// tryConsumeSecondEOFRecord implements the single-record lookahead
// documented in spec §4.1: tar archives are terminated by two
// consecutive all-zero records. When the source supports mark/reset,
// the second record is peeked and rewound if it isn't zero; when it
// doesn't, the extra record is consumed unconditionally. This can
// over-consume one record past the archive on a non-seekable source;
// that is a known, preserved quirk matching prevailing implementations.
func (r *recordReader) tryConsumeSecondEOFRecord() error {
	m, ok := r.src.Reader.(marker)
	if !ok {
		_, err := r.readRecord()
		return err
	}
	m.Mark(r.recordSize)
	rec, err := r.readRecord()
	if err != nil {
		return err
	}
	if !isEOFRecord(rec) {
		return m.Reset()
	}
	return nil
}

// consumeBlockTail skips forward to align the cumulative bytes pulled
// from the source on a block boundary. Called once, at the EOF
// record, to satisfy the invariant that total consumption is a
// multiple of blockSize. Short skips at EOF are silently accepted.
func (r *recordReader) consumeBlockTail() error {
	pad := blockPadding(r.consumed, int64(r.blockSize))
	if pad == 0 {
		return nil
	}
	return r.skip(pad)
}

// consumeEntryTail skips the record-alignment padding that follows an
// entry's on-disk payload: ((declaredSize+recordSize-1)/recordSize)*
// recordSize - declaredSize bytes. Distinct from consumeBlockTail,
// which aligns the whole archive, not a single entry.
func (r *recordReader) consumeEntryTail(declaredSize int64) error {
	if declaredSize <= 0 {
		return nil
	}
	full := ((declaredSize + int64(r.recordSize) - 1) / int64(r.recordSize)) * int64(r.recordSize)
	return r.skip(full - declaredSize)
}

// blockPadding returns the non-negative distance from n up to the
// next multiple of block.
func blockPadding(n, block int64) int64 {
	if block <= 0 {
		return 0
	}
	rem := n % block
	if rem == 0 {
		return 0
	}
	return block - rem
}

// skip advances the underlying source by n bytes, using the optional
// skipper capability when present and falling back to a discarding
// copy otherwise. Short skips at EOF are silently accepted.
func (r *recordReader) skip(n int64) error {
	if n <= 0 {
		return nil
	}
	if sk, ok := r.src.Reader.(skipper); ok {
		got, err := sk.Skip(n)
		r.consumed += got
		r.counter.Add(got)
		if err != nil && err != io.EOF {
			return newErr("consume_block_tail", ErrTruncated, err)
		}
		return nil
	}
	got, err := io.CopyN(io.Discard, r.src.Reader, n)
	r.consumed += got
	r.counter.Add(got)
	if err != nil && err != io.EOF {
		return newErr("consume_block_tail", ErrTruncated, err)
	}
	return nil
}
