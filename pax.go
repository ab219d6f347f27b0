// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tarcursor

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

// paxSparseOffset/paxSparseNumBytes are the PAX 0.0 sparse
// side-channel keywords; paxSparseMap is the PAX 0.1 comma-list key.
const (
	paxSparseOffset   = "GNU.sparse.offset"
	paxSparseNumBytes = "GNU.sparse.numbytes"
	paxSparseMap      = "GNU.sparse.map"
	paxSparseName     = "GNU.sparse.name"
	paxSparseRealSize = "GNU.sparse.realsize"
	paxSparseSize     = "GNU.sparse.size"
	paxSparseNumBlks  = "GNU.sparse.numblocks"
	paxSparseMajor    = "GNU.sparse.major"
	paxSparseMinor    = "GNU.sparse.minor"

	paxPath     = "path"
	paxLinkpath = "linkpath"
	paxSize     = "size"
	paxUID      = "uid"
	paxGID      = "gid"
	paxUname    = "uname"
	paxGname    = "gname"
	paxMtime    = "mtime"
	paxAtime    = "atime"
	paxCtime    = "ctime"

	paxSchilyXattr = "SCHILY.xattr."
	paxSchilyDMaj  = "SCHILY.devmajor"
	paxSchilyDMin  = "SCHILY.devminor"
)

// paxParser implements the "length keyword=value\n" extended-header
// format of spec §4.3.
type paxParser struct {
	r io.Reader
}

func newPaxParser(r io.Reader) *paxParser { return &paxParser{r: r} }

// parse consumes bytes until the stream ends, returning the decoded
// keyword/value map. While iterating, the PAX 0.0 sparse side-channel
// (GNU.sparse.offset / GNU.sparse.numbytes pairs) is tracked and its
// spans are returned as the second result.
func (pp *paxParser) parse() (map[string]string, []Span, error) {
	br := bufio.NewReader(pp.r)
	out := make(map[string]string)
	var spans []Span
	var pendingOffset int64
	havePending := false

	flush := func(length int64) {
		spans = append(spans, Span{Offset: pendingOffset, Length: length})
		havePending = false
	}

	for {
		length, stop, err := pp.readLength(br)
		if err != nil {
			return nil, nil, err
		}
		if stop {
			break
		}

		key, value, err := pp.readKeyValue(br, length)
		if err != nil {
			return nil, nil, err
		}

		switch key {
		case paxSparseOffset:
			if havePending {
				flush(0)
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, nil, newErr("pax_parse", ErrPaxMalformed, err)
			}
			pendingOffset = n
			havePending = true
		case paxSparseNumBytes:
			if !havePending {
				return nil, nil, newErr("pax_parse", ErrPaxMalformed, nil)
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, nil, newErr("pax_parse", ErrPaxMalformed, err)
			}
			flush(n)
		default:
			if value == "" {
				delete(out, key)
			} else {
				out[key] = value
			}
		}
	}
	if havePending {
		flush(0)
	}
	return out, spans, nil
}

// readLength reads ASCII decimal digits until a space, accumulating
// the record length. A non-digit, non-space byte before the space is
// PaxMalformed. A literal newline at this stage terminates parsing
// (a blank record at end of block).
func (pp *paxParser) readLength(br *bufio.Reader) (length int64, stop bool, err error) {
	var digits []byte
	for {
		b, e := br.ReadByte()
		if e == io.EOF {
			if len(digits) == 0 {
				return 0, true, nil
			}
			return 0, false, newErr("pax_parse", ErrTruncated, e)
		}
		if e != nil {
			return 0, false, newErr("pax_parse", ErrTruncated, e)
		}
		if b == '\n' && len(digits) == 0 {
			return 0, true, nil
		}
		if b == ' ' {
			break
		}
		if b < '0' || b > '9' {
			return 0, false, newErr("pax_parse", ErrPaxMalformed, nil)
		}
		digits = append(digits, b)
	}
	if len(digits) == 0 {
		return 0, false, newErr("pax_parse", ErrPaxMalformed, nil)
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, false, newErr("pax_parse", ErrPaxMalformed, err)
	}
	return n, false, nil
}

// readKeyValue reads bytes until '=' to form the keyword, then the
// remaining length-accounted value bytes plus the trailing newline.
// If the remaining length is exactly 1 (only the newline), the
// keyword is reported for removal (empty key is never valid, so the
// caller recognizes removal by the returned key being the keyword and
// value being "").
func (pp *paxParser) readKeyValue(br *bufio.Reader, length int64) (key, value string, err error) {
	digitsLen := digitCount(length)
	consumed := int64(digitsLen) + 1 // digits + the space already consumed

	var keyBuf bytes.Buffer
	for {
		b, e := br.ReadByte()
		if e != nil {
			return "", "", newErr("pax_parse", ErrTruncated, e)
		}
		consumed++
		if b == '=' {
			break
		}
		if consumed > length {
			return "", "", newErr("pax_parse", ErrPaxMalformed, nil)
		}
		keyBuf.WriteByte(b)
	}

	remaining := length - consumed
	if remaining < 1 {
		// The declared length leaves no room for the trailing newline.
		return "", "", newErr("pax_parse", ErrPaxMalformed, nil)
	}
	if remaining == 1 {
		// Only the trailing newline remains: a removal record.
		nl, e := br.ReadByte()
		if e != nil {
			return "", "", newErr("pax_parse", ErrTruncated, e)
		}
		if nl != '\n' {
			return "", "", newErr("pax_parse", ErrPaxMalformed, nil)
		}
		return keyBuf.String(), "", nil
	}

	valBuf := make([]byte, remaining-1)
	if _, e := io.ReadFull(br, valBuf); e != nil {
		return "", "", newErr("pax_parse", ErrTruncated, e)
	}
	nl, e := br.ReadByte()
	if e != nil {
		return "", "", newErr("pax_parse", ErrTruncated, e)
	}
	if nl != '\n' {
		return "", "", newErr("pax_parse", ErrPaxMalformed, nil)
	}
	return keyBuf.String(), string(valBuf), nil
}

func digitCount(n int64) int {
	if n == 0 {
		return 1
	}
	c := 0
	for n > 0 {
		c++
		n /= 10
	}
	return c
}
