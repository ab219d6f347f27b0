// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tarcursor

import "io"

// sparseReader composes zero-fill segments and data segments, drawn
// from the spans of a sparse entry, into a single virtual payload
// stream faithfully reproducing the dense file (spec §4.5). Past the
// last span, the remainder of the dense file is implicit zero fill
// with no corresponding Span in the canonical list; the reader
// supplies it as an open-ended zero run and relies on the caller
// (EntryCursor, bounding reads by RealSize) to stop asking for more.
type sparseReader struct {
	src     byteSource
	spans   []Span
	next    int   // index of the next not-yet-started span
	logical int64 // bytes emitted so far (zero + data)

	zeroRemaining int64
	dataRemaining int64

	counter ByteCounter

	// bytesFromSource is the cumulative count of bytes actually pulled
	// from the underlying source (data segments only; zero segments are
	// synthetic and never touch src). The cursor diffs this before/after
	// each call to fold sparse-path consumption into its own
	// block-alignment accounting, which only otherwise sees record reads
	// and explicit padding skips.
	bytesFromSource int64
}

func newSparseReader(src byteSource, spans []Span, counter ByteCounter) *sparseReader {
	return &sparseReader{src: src, spans: spans, counter: counter}
}

// advance sets up the next segment(s) when the current one is
// exhausted, skipping over any number of zero-length segments.
func (r *sparseReader) advance() {
	for r.zeroRemaining == 0 && r.dataRemaining == 0 && r.next < len(r.spans) {
		s := r.spans[r.next]
		r.next++
		r.zeroRemaining = s.Offset - r.logical
		r.dataRemaining = s.Length
	}
}

// Read fills p from the composed virtual stream. It returns fewer
// than len(p) bytes only when the underlying source fails inside a
// data segment; past the last span it keeps supplying zeros, so the
// caller is expected to bound reads by RealSize.
func (r *sparseReader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		r.advance()
		switch {
		case r.zeroRemaining > 0:
			n := int64(len(p) - total)
			if n > r.zeroRemaining {
				n = r.zeroRemaining
			}
			clear(p[total : total+int(n)])
			total += int(n)
			r.zeroRemaining -= n
			r.logical += n
		case r.dataRemaining > 0:
			n := int64(len(p) - total)
			if n > r.dataRemaining {
				n = r.dataRemaining
			}
			got, err := io.ReadFull(r.src.Reader, p[total:total+int(n)])
			r.counter.Add(int64(got))
			r.bytesFromSource += int64(got)
			total += got
			r.dataRemaining -= int64(got)
			r.logical += int64(got)
			if err != nil {
				return total, newErr("read", ErrTruncated, err)
			}
		default:
			// Spans exhausted: implicit zero fill past the last span,
			// open-ended. The caller bounds how much of it to deliver.
			n := len(p) - total
			clear(p[total:])
			total += n
			r.logical += int64(n)
		}
	}
	return total, nil
}

// Skip advances the virtual stream by n bytes without delivering them,
// draining the underlying source for data segments and simply
// counting forward for zero segments.
func (r *sparseReader) Skip(n int64) (int64, error) {
	var skipped int64
	for skipped < n {
		r.advance()
		switch {
		case r.zeroRemaining > 0:
			k := n - skipped
			if k > r.zeroRemaining {
				k = r.zeroRemaining
			}
			skipped += k
			r.zeroRemaining -= k
			r.logical += k
		case r.dataRemaining > 0:
			k := n - skipped
			if k > r.dataRemaining {
				k = r.dataRemaining
			}
			got, err := discardN(r.src.Reader, k)
			r.counter.Add(got)
			r.bytesFromSource += got
			skipped += got
			r.dataRemaining -= got
			r.logical += got
			if err != nil {
				return skipped, newErr("skip", ErrTruncated, err)
			}
			if got < k {
				return skipped, nil
			}
		default:
			// Spans exhausted: the rest of the requested skip lands in
			// the implicit zero-fill tail and costs nothing to drain.
			k := n - skipped
			skipped += k
			r.logical += k
		}
	}
	return skipped, nil
}

func discardN(r io.Reader, n int64) (int64, error) {
	if sk, ok := r.(skipper); ok {
		return sk.Skip(n)
	}
	got, err := io.CopyN(io.Discard, r, n)
	if err == io.EOF {
		err = nil
	}
	return got, err
}
