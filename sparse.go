// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tarcursor

import (
	"io"
	"sort"
	"strconv"
	"strings"
)

// oldGNUSparseEntries reads the 4 (offset, length) pairs packed into
// the header block at offGNUSparse, then — while isExtended is set —
// consumes further 512-byte sparse-continuation records (21 entries
// each) via rr, appending their spans. An empty entry slot (first
// byte NUL) terminates that block's entries without ending the scan:
// an isExtended continuation may still follow.
func oldGNUSparseEntries(blk []byte, rr *recordReader, lenient bool) ([]Span, error) {
	p := &parser{lenient: lenient}
	var spans []Span

	readEntries := func(b []byte, off, count int) bool {
		more := true
		for i := 0; i < count; i++ {
			entry := b[off+i*szSparseEntry : off+(i+1)*szSparseEntry]
			if entry[0] == 0 {
				more = false
				break
			}
			o := p.parseOctal(entry[:12])
			l := p.parseOctal(entry[12:24])
			if p.err != nil {
				return more
			}
			spans = append(spans, Span{Offset: o, Length: l})
		}
		return more
	}

	readEntries(blk, offGNUSparse, numGNUSparse)
	if p.err != nil {
		return nil, p.err
	}
	extended := blk[offGNUExtended] != 0

	for extended {
		next, err := rr.readRecord()
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, newErr("resolve_sparse", ErrTruncated, io.ErrUnexpectedEOF)
		}
		readEntries(next, 0, 21)
		if p.err != nil {
			return nil, p.err
		}
		extended = next[21*szSparseEntry] != 0
	}
	return spans, nil
}

// parsePAX01SparseMap parses GNU.sparse.map: a comma-separated
// decimal list interpreted as offset,length pairs. An odd element
// count is SparseMalformed.
func parsePAX01SparseMap(s string) ([]Span, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts)%2 != 0 {
		return nil, newErr("resolve_sparse", ErrSparseMalformed, nil)
	}
	spans := make([]Span, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		off, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return nil, newErr("resolve_sparse", ErrSparseMalformed, err)
		}
		length, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil {
			return nil, newErr("resolve_sparse", ErrSparseMalformed, err)
		}
		spans = append(spans, Span{Offset: off, Length: length})
	}
	return spans, nil
}

// parsePAX1xSparseMap reads the PAX 1.x in-payload decimal sparse
// map: "count\n", then 2*count decimal numbers each newline
// terminated, followed by padding out to the next record boundary.
// It returns the parsed spans and the total number of bytes read
// from r, including the alignment padding.
func parsePAX1xSparseMap(r io.Reader, recordSize int) ([]Span, int64, error) {
	// r is the raw, unbounded underlying source shared with later
	// payload reads: it must be read exactly one byte at a time with
	// no read-ahead buffering, or bytes belonging to the data region
	// that follows the map would be silently swallowed.
	var one [1]byte
	var read int64

	readByte := func() (byte, error) {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return 0, newErr("resolve_sparse", ErrTruncated, err)
		}
		read++
		return one[0], nil
	}

	readDecimalLine := func() (int64, error) {
		var v int64
		var any bool
		for {
			b, err := readByte()
			if err != nil {
				return 0, err
			}
			if b == '\n' {
				if !any {
					return 0, newErr("resolve_sparse", ErrSparseMalformed, nil)
				}
				return v, nil
			}
			if b < '0' || b > '9' {
				return 0, newErr("resolve_sparse", ErrSparseMalformed, nil)
			}
			any = true
			v = v*10 + int64(b-'0')
		}
	}

	count, err := readDecimalLine()
	if err != nil {
		return nil, 0, err
	}
	spans := make([]Span, 0, count)
	for i := int64(0); i < count; i++ {
		off, err := readDecimalLine()
		if err != nil {
			return nil, 0, err
		}
		length, err := readDecimalLine()
		if err != nil {
			return nil, 0, err
		}
		spans = append(spans, Span{Offset: off, Length: length})
	}

	if pad := blockPadding(read, int64(recordSize)); pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return nil, 0, newErr("resolve_sparse", ErrTruncated, err)
		}
		read += pad
	}
	return spans, read, nil
}

// normalizeSparseSpans drops a trailing (0,0) terminator if present,
// sorts the remaining spans by offset ascending (stable), and
// validates the invariants of spec §3.
func normalizeSparseSpans(spans []Span, realSize int64) ([]Span, error) {
	if len(spans) > 0 {
		last := spans[len(spans)-1]
		if last.Offset == 0 && last.Length == 0 {
			spans = spans[:len(spans)-1]
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Offset < spans[j].Offset })

	var prevEnd int64
	for i, s := range spans {
		if s.Offset < 0 || s.Length < 0 {
			return nil, newErr("resolve_sparse", ErrSparseMalformed, nil)
		}
		if s.end() > realSize {
			return nil, newErr("resolve_sparse", ErrSparseMalformed, nil)
		}
		// Spans are sorted ascending by offset; this check can only
		// ever catch overlap between adjacent spans (see spec Open
		// Question 3), never an ordering problem.
		if i > 0 && s.Offset < prevEnd {
			return nil, newErr("resolve_sparse", ErrSparseMalformed, nil)
		}
		prevEnd = s.end()
	}
	return spans, nil
}
