// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tarcursor

import (
	"io"
	"strings"
)

// EntryCursor is the top-level state machine driving the
// record/header/pax/sparse layers: it advances entry to entry,
// stitches long-name/PAX/sparse continuations, and exposes the
// per-entry payload stream. It is single-threaded and not reentrant
// (spec §5): exactly one in-flight operation at a time.
type EntryCursor struct {
	cfg Config
	src byteSource
	rr  *recordReader

	atEOF   bool
	closed  bool
	current *Entry

	entryOffset       int64
	entryDeclaredSize int64
	sparse            *sparseReader

	globalPAX map[string]string
}

// NewEntryCursor constructs a cursor over r, an opaque forward-only
// byte source. r may optionally implement io.Closer, and the marker/
// skipper capabilities described in spec §6.
func NewEntryCursor(r io.Reader, opts ...Option) *EntryCursor {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	src := byteSource{Reader: r}
	return &EntryCursor{
		cfg: cfg,
		src: src,
		rr:  newRecordReader(src, &cfg),
	}
}

// CurrentEntry returns the entry most recently produced by NextEntry,
// or nil before the first call / after exhaustion.
func (c *EntryCursor) CurrentEntry() *Entry { return c.current }

// Close releases the underlying byte source exactly once. Safe to
// call after exhaustion or more than once.
func (c *EntryCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.src.close()
}

// NextEntry advances to the next logical entry, draining any
// remaining payload of the current one first (spec §4.6).
func (c *EntryCursor) NextEntry() (*Entry, error) {
	if c.atEOF {
		return nil, nil
	}

	if c.current != nil {
		if err := c.drainCurrent(); err != nil {
			return nil, err
		}
		// Directories have no tail padding to skip even if a malformed
		// on-wire header carried a non-zero Size (decodeHeader already
		// zeroes it, but this mirrors drainCurrent's own guard above).
		if !c.current.isDirectory() {
			if err := c.rr.consumeEntryTail(c.entryDeclaredSize); err != nil {
				return nil, err
			}
		}
	}

	entry, err := c.resolveEntry()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		c.current = nil
		c.sparse = nil
		return nil, nil
	}

	c.entryOffset = 0
	c.entryDeclaredSize = entry.Size
	c.sparse = nil
	if len(entry.SparseHeaders) > 0 || entry.isOldGNUSparse() {
		normalized, err := normalizeSparseSpans(entry.SparseHeaders, entry.RealSize)
		if err != nil {
			return nil, err
		}
		entry.SparseHeaders = normalized
		c.sparse = newSparseReader(c.src, normalized, c.cfg.Counter)
	}

	c.current = entry
	return entry, nil
}

// drainCurrent reads and discards whatever is left of the current
// entry's payload through the same read path callers use, so sparse
// bookkeeping stays accurate.
func (c *EntryCursor) drainCurrent() error {
	if c.current == nil || c.current.isDirectory() {
		return nil
	}
	buf := make([]byte, 32*1024)
	for {
		_, err := c.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// nextRawEntry reads one record and decodes it into an Entry,
// returning (nil, nil) at the archive's end-of-archive marker.
func (c *EntryCursor) nextRawEntry() (*Entry, error) {
	rec, err := c.rr.readRecord()
	if err != nil {
		return nil, err
	}
	if isEOFRecord(rec) {
		c.atEOF = true
		if err := c.rr.tryConsumeSecondEOFRecord(); err != nil {
			return nil, err
		}
		if err := c.rr.consumeBlockTail(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	entry, err := decodeHeader(rec, c.cfg.TextDecoder, c.cfg.Lenient)
	if err != nil {
		return nil, err
	}

	if entry.isOldGNUSparse() {
		spans, err := oldGNUSparseEntries(rec, c.rr, c.cfg.Lenient)
		if err != nil {
			return nil, err
		}
		entry.SparseHeaders = spans
	}
	return entry, nil
}

// resolveEntry implements steps 5-11 of spec §4.6: it loops over
// pseudo-entries (long-name, long-link, PAX local/global), stitching
// their effect onto the next real entry, and returns that real entry.
func (c *EntryCursor) resolveEntry() (*Entry, error) {
	var pendingName, pendingLink string
	var havePendingName, havePendingLink bool
	var localPAX map[string]string
	var havePendingPAX bool
	var pendingSparseSpans []Span

	for {
		raw, err := c.nextRawEntry()
		if err != nil {
			return nil, err
		}
		if raw == nil {
			if havePendingPAX {
				return nil, newErr("next_entry", ErrTruncated, nil)
			}
			return nil, nil // tolerate: matches historical implementations
		}

		switch {
		case raw.isLongLink():
			buf, err := c.readPseudoPayload(raw)
			if err != nil {
				return nil, err
			}
			pendingLink = c.cfg.TextDecoder.Decode(buf)
			havePendingLink = true

		case raw.isLongName():
			buf, err := c.readPseudoPayload(raw)
			if err != nil {
				return nil, err
			}
			pendingName = c.cfg.TextDecoder.Decode(buf)
			havePendingName = true

		case raw.isPaxGlobal():
			m, _, err := c.parsePaxPayload(raw)
			if err != nil {
				return nil, err
			}
			c.globalPAX = m

		case raw.isPaxLocal():
			m, spans, err := c.parsePaxPayload(raw)
			if err != nil {
				return nil, err
			}
			localPAX = mergePaxMaps(c.globalPAX, m)
			havePendingPAX = true
			pendingSparseSpans = spans

		default:
			entry := raw
			if havePendingLink {
				entry.LinkName = pendingLink
			}
			if havePendingName {
				entry.Name = pendingName
				if entry.isDirectory() && !strings.HasSuffix(entry.Name, "/") {
					entry.Name += "/"
				}
			}

			if havePendingPAX {
				if err := applyPaxMap(entry, localPAX, pendingSparseSpans); err != nil {
					return nil, err
				}
			} else if len(c.globalPAX) > 0 {
				if err := applyPaxMap(entry, c.globalPAX, nil); err != nil {
					return nil, err
				}
			}

			if entry.isPaxGNU1xSparse() {
				spans, read, err := parsePAX1xSparseMap(c.src.Reader, c.cfg.RecordSize)
				if err != nil {
					return nil, err
				}
				c.cfg.Counter.Add(read)
				c.rr.consumed += read
				entry.SparseHeaders = append(entry.SparseHeaders, spans...)
			}

			return entry, nil
		}
	}
}

// readPseudoPayload reads the entire payload of a long-name/long-link
// pseudo-entry, strips trailing NULs, and consumes its record-aligned
// tail padding.
func (c *EntryCursor) readPseudoPayload(raw *Entry) ([]byte, error) {
	buf := make([]byte, raw.Size)
	if raw.Size > 0 {
		n, err := io.ReadFull(c.src.Reader, buf)
		c.cfg.Counter.Add(int64(n))
		c.rr.consumed += int64(n)
		if err != nil {
			return nil, newErr("next_entry", ErrTruncated, err)
		}
	}
	if err := c.rr.consumeEntryTail(raw.Size); err != nil {
		return nil, err
	}
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return buf[:end], nil
}

// parsePaxPayload reads and parses a PAX extended-header entry's
// payload, then consumes its record-aligned tail padding.
func (c *EntryCursor) parsePaxPayload(raw *Entry) (map[string]string, []Span, error) {
	limited := io.LimitReader(countingReader{c.src.Reader, c}, raw.Size)
	m, spans, err := newPaxParser(limited).parse()
	if err != nil {
		return nil, nil, err
	}
	if err := c.rr.consumeEntryTail(raw.Size); err != nil {
		return nil, nil, err
	}
	return m, spans, nil
}

// countingReader feeds bytes consumed while parsing a PAX block into
// the cursor's telemetry and record-reader accounting.
type countingReader struct {
	r io.Reader
	c *EntryCursor
}

func (cr countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.c.cfg.Counter.Add(int64(n))
	cr.c.rr.consumed += int64(n)
	return n, err
}

// mergePaxMaps returns a fresh map combining base (the global layer)
// with overlay (the local layer); an empty-string value in overlay
// removes the key from the result rather than keeping it.
func mergePaxMaps(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if v == "" {
			delete(out, k)
		} else {
			out[k] = v
		}
	}
	return out
}

// Read delivers up to len(p) bytes of the current entry's logical
// payload. Directories and entries with no current selection yield
// io.EOF.
func (c *EntryCursor) Read(p []byte) (int, error) {
	if c.current == nil || c.atEntryEOF() || c.current.isDirectory() {
		return 0, io.EOF
	}

	limit := c.entryDeclaredSize
	if c.sparse != nil {
		limit = c.current.RealSize
	}
	remaining := limit - c.entryOffset
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	var n int
	var err error
	if c.sparse != nil {
		before := c.sparse.bytesFromSource
		n, err = c.sparse.Read(p)
		c.rr.consumed += c.sparse.bytesFromSource - before
	} else {
		n, err = io.ReadFull(c.src.Reader, p)
		c.cfg.Counter.Add(int64(n))
		c.rr.consumed += int64(n)
		if err != nil {
			// Any short read here is before the declared end.
			err = newErr("read", ErrTruncated, err)
		}
	}
	c.entryOffset += int64(n)
	return n, err
}

func (c *EntryCursor) atEntryEOF() bool {
	if c.current == nil {
		return true
	}
	limit := c.entryDeclaredSize
	if c.sparse != nil {
		limit = c.current.RealSize
	}
	return c.entryOffset >= limit
}

// Skip advances the current entry's payload by n bytes without
// delivering them, returning the number of bytes actually advanced.
// Directories and non-positive n always return 0.
func (c *EntryCursor) Skip(n int64) (int64, error) {
	if c.current == nil {
		return 0, newErr("skip", ErrStateError, nil)
	}
	if c.current.isDirectory() || n <= 0 {
		return 0, nil
	}

	limit := c.entryDeclaredSize
	if c.sparse != nil {
		limit = c.current.RealSize
	}
	remaining := limit - c.entryOffset
	if n > remaining {
		n = remaining
	}
	if n <= 0 {
		return 0, nil
	}

	var skipped int64
	var err error
	if c.sparse != nil {
		before := c.sparse.bytesFromSource
		skipped, err = c.sparse.Skip(n)
		c.rr.consumed += c.sparse.bytesFromSource - before
	} else {
		skipped, err = discardN(c.src.Reader, n)
		c.cfg.Counter.Add(skipped)
		c.rr.consumed += skipped
		if err != nil {
			err = newErr("skip", ErrTruncated, err)
		}
	}
	c.entryOffset += skipped
	return skipped, err
}

// Available returns the number of bytes still obtainable from the
// current entry's payload via Read, 0 for directories.
func (c *EntryCursor) Available() int64 {
	if c.current == nil || c.current.isDirectory() {
		return 0
	}
	limit := c.entryDeclaredSize
	if c.sparse != nil {
		limit = c.current.RealSize
	}
	remaining := limit - c.entryOffset
	if remaining < 0 {
		return 0
	}
	return remaining
}
