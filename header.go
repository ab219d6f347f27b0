// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tarcursor

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Type flags, matching the on-wire typeflag byte plus the pseudo-types
// this package classifies headers into.
const (
	tfRegular   = '0'
	tfRegularA  = 0 // legacy V7 regular file
	tfLink      = '1'
	tfSymlink   = '2'
	tfChar      = '3'
	tfBlock     = '4'
	tfDir       = '5'
	tfFifo      = '6'
	tfContig    = '7'
	tfXHeader   = 'x' // PAX local extended header
	tfXGlobal   = 'g' // PAX global extended header
	tfGNUSparse = 'S'
	tfGNULong   = 'L'
	tfGNULink   = 'K'
)

// EntryType tags the flavor of an Entry, per spec §3.
type EntryType int

const (
	TypeRegular EntryType = iota
	TypeDirectory
	TypeSymlink
	TypeHardlink
	TypeCharDevice
	TypeBlockDevice
	TypeFIFO
	TypeLongNameContinuation
	TypeLongLinkContinuation
	TypeOldGNUSparse
	TypePAXLocalExtended
	TypePAXGlobalExtended
	TypeGNU1xSparseData
	TypeOther
)

// Format is a best-effort dialect tag, informational only.
type Format int

const (
	FormatUnknown Format = iota
	FormatUSTAR
	FormatPAX
	FormatGNU
)

// Entry is the per-archive-member record produced by HeaderDecoder,
// after any PAX/long-name stitching EntryCursor has applied.
type Entry struct {
	Name     string
	LinkName string

	Size     int64 // declared on-disk payload size
	RealSize int64 // logical dense size; equals Size unless sparse

	Type EntryType

	Mode       int64
	UID, GID   int64
	ModTime    time.Time
	AccessTime time.Time
	ChangeTime time.Time
	DevMajor   int64
	DevMinor   int64

	Uname, Gname string
	Xattrs       map[string]string
	PAXRecords   map[string]string
	Format       Format

	IsExtended bool // old-GNU bit: sparse-continuation records follow

	SparseHeaders []Span // canonical, ordered, non-overlapping
	SparseFormat  string // "", "0.0", "0.1", "1.0"; "1.0" makes the cursor parse an in-payload sparse map
}

// Span is a canonical (offset, length) sparse-map entry.
type Span struct {
	Offset, Length int64
}

func (s Span) end() int64 { return s.Offset + s.Length }

// isHeaderOnlyType reports whether flag never has a payload body even
// if a size is specified.
func isHeaderOnlyType(flag byte) bool {
	switch flag {
	case tfLink, tfSymlink, tfChar, tfBlock, tfDir, tfFifo:
		return true
	default:
		return false
	}
}

// block layout offsets, shared by V7/ustar/GNU.
const (
	offName     = 0
	szName      = 100
	offMode     = 100
	szMode      = 8
	offUID      = 108
	szUID       = 8
	offGID      = 116
	szGID       = 8
	offSize     = 124
	szSize      = 12
	offMtime    = 136
	szMtime     = 12
	offChksum   = 148
	szChksum    = 8
	offTypeflag = 156
	offLinkname = 157
	szLinkname  = 100
	offMagic    = 257
	szMagic     = 6
	offVersion  = 263
	szVersion   = 2
	offUname    = 265
	szUname     = 32
	offGname    = 297
	szGname     = 32
	offDevmajor = 329
	szDevmajor  = 8
	offDevminor = 337
	szDevminor  = 8
	offPrefix   = 345
	szPrefix    = 155

	// GNU-specific fields, overlapping the ustar prefix region.
	offGNUAtime    = 345
	offGNUCtime    = 357
	offGNUOffset   = 369
	offGNUSparse   = 386
	szSparseEntry  = 24
	numGNUSparse   = 4
	offGNUExtended = 482
	offGNURealSize = 483
	szGNURealSize  = 12
)

func field(b []byte, off, sz int) []byte { return b[off : off+sz] }

// parser accumulates the first decode error seen, matching the
// teacher's internal/tar "parser" idiom: one pass, sticky error.
type parser struct {
	err     error
	lenient bool
}

func (p *parser) decodeString(dec TextDecoder, b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i >= 0 {
		b = b[:i]
	}
	return dec.Decode(b)
}

// parseOctal reads an ASCII octal field with optional trailing
// space/NUL, or a base-256 binary field when the high bit of the
// first byte is set. Overflow yields Unknown when lenient, else
// raises HeaderMalformed via p.err.
func (p *parser) parseOctal(b []byte) int64 {
	if p.err != nil {
		return 0
	}
	if len(b) > 0 && b[0]&0x80 != 0 {
		return p.parseBase256(b)
	}

	// Trim trailing NULs and spaces, and leading spaces.
	trimmed := bytes.Trim(b, " \x00")
	if len(trimmed) == 0 {
		return 0
	}
	// Truncate at the first NUL or space terminator (historical tar
	// writers sometimes leave junk after it). Any other non-octal byte
	// is left in place and rejected by ParseUint below.
	if i := bytes.IndexAny(trimmed, " \x00"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if len(trimmed) == 0 {
		return 0
	}
	v, err := strconv.ParseUint(string(trimmed), 8, 64)
	if err != nil {
		if p.lenient {
			return Unknown
		}
		p.err = newErr("parse_numeric", ErrHeaderMalformed, err)
		return 0
	}
	return int64(v)
}

func (p *parser) parseBase256(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	// First byte: 0x80 flags base-256; 0xff additionally flags negative
	// (two's complement) in the historical GNU encoding.
	negative := b[0] == 0xff
	var v uint64
	rest := append([]byte(nil), b...)
	if !negative {
		rest[0] &= 0x7f
	}
	if len(rest) > 8 {
		// Overflows int64: only tolerate sign-extension leading bytes
		// (0x00 after masking, or 0xff for a negative value).
		for _, c := range rest[:len(rest)-8] {
			if c != 0 && !(negative && c == 0xff) {
				if p.lenient {
					return Unknown
				}
				p.err = newErr("parse_numeric", ErrHeaderMalformed, nil)
				return 0
			}
		}
		rest = rest[len(rest)-8:]
	}
	for _, c := range rest {
		v = v<<8 | uint64(c)
	}
	if negative {
		return -int64(^v + 1)
	}
	return int64(v)
}

// matches identifies the dialect from the magic+version bytes of a
// raw 512-byte header block. Exposed as the static predicate named in
// spec §4.7; does not affect cursor behavior.
func matches(sig []byte, length int) Format {
	if length < offVersion+szVersion {
		return FormatUnknown
	}
	magic := sig[offMagic : offMagic+szMagic]
	version := sig[offVersion : offVersion+szVersion]
	switch {
	case bytes.Equal(magic, []byte("ustar\x00")) && bytes.Equal(version, []byte("00")):
		return FormatUSTAR
	case bytes.Equal(magic, []byte("ustar ")) &&
		(bytes.Equal(version, []byte(" \x00")) || bytes.Equal(version, []byte("00"))):
		return FormatGNU
	default:
		return FormatUnknown
	}
}

// checksumOK computes both the unsigned and signed header checksums
// (historical tar implementations disagree on signedness for bytes
// with the high bit set) and reports whether declared matches either.
func checksumOK(blk []byte, declared int64) bool {
	var unsigned, signed int64
	for i, b := range blk {
		if i >= offChksum && i < offChksum+szChksum {
			b = ' '
		}
		unsigned += int64(b)
		signed += int64(int8(b))
	}
	return declared == unsigned || declared == signed
}

// decodeHeader parses a raw 512-byte header buffer into an Entry. It
// fails with HeaderMalformed if the checksum fails or a numeric field
// is malformed. A block whose magic/version bytes match neither ustar
// nor GNU is not rejected: it is decoded as a bare V7 header.
func decodeHeader(blk []byte, dec TextDecoder, lenient bool) (*Entry, error) {
	if len(blk) < 512 {
		return nil, newErr("decode", ErrHeaderMalformed, nil)
	}

	p := &parser{lenient: lenient}
	declaredSum := p.parseOctal(field(blk, offChksum, szChksum))
	if p.err != nil {
		return nil, p.err
	}
	if !checksumOK(blk, declaredSum) {
		return nil, newErr("decode", ErrHeaderMalformed, nil)
	}

	format := matches(blk, len(blk))
	hasUSTARFields := format != FormatUnknown
	// Liberal fallback: treat any block whose magic/version we don't
	// recognize, but whose checksum is valid, as a bare V7 header.

	e := &Entry{PAXRecords: nil}
	typeflag := field(blk, offTypeflag, 1)[0]
	e.Name = p.decodeString(dec, field(blk, offName, szName))
	e.LinkName = p.decodeString(dec, field(blk, offLinkname, szLinkname))
	e.Size = p.parseOctal(field(blk, offSize, szSize))
	e.Mode = p.parseOctal(field(blk, offMode, szMode))
	e.UID = p.parseOctal(field(blk, offUID, szUID))
	e.GID = p.parseOctal(field(blk, offGID, szGID))
	mtime := p.parseOctal(field(blk, offMtime, szMtime))
	if !IsUnknown(mtime) {
		e.ModTime = time.Unix(mtime, 0)
	}

	if hasUSTARFields {
		e.Uname = p.decodeString(dec, field(blk, offUname, szUname))
		e.Gname = p.decodeString(dec, field(blk, offGname, szGname))
		e.DevMajor = p.parseOctal(field(blk, offDevmajor, szDevmajor))
		e.DevMinor = p.parseOctal(field(blk, offDevminor, szDevminor))
		e.Format = format

		var prefix string
		if format == FormatUSTAR {
			prefix = p.decodeString(dec, field(blk, offPrefix, szPrefix))
		} else if format == FormatGNU {
			if field(blk, offGNUAtime, 12)[0] != 0 {
				if v := p.parseOctal(field(blk, offGNUAtime, 12)); !IsUnknown(v) {
					e.AccessTime = time.Unix(v, 0)
				}
			}
			if field(blk, offGNUCtime, 12)[0] != 0 {
				if v := p.parseOctal(field(blk, offGNUCtime, 12)); !IsUnknown(v) {
					e.ChangeTime = time.Unix(v, 0)
				}
			}
		}
		if prefix != "" {
			e.Name = prefix + "/" + e.Name
		}
	}

	if p.err != nil {
		return nil, p.err
	}

	switch typeflag {
	case tfDir:
		e.Type = TypeDirectory
	case tfSymlink:
		e.Type = TypeSymlink
	case tfLink:
		e.Type = TypeHardlink
	case tfChar:
		e.Type = TypeCharDevice
	case tfBlock:
		e.Type = TypeBlockDevice
	case tfFifo:
		e.Type = TypeFIFO
	case tfGNULong:
		e.Type = TypeLongNameContinuation
	case tfGNULink:
		e.Type = TypeLongLinkContinuation
	case tfGNUSparse:
		e.Type = TypeOldGNUSparse
	case tfXHeader:
		e.Type = TypePAXLocalExtended
	case tfXGlobal:
		e.Type = TypePAXGlobalExtended
	case tfRegular, tfRegularA:
		if strings.HasSuffix(e.Name, "/") {
			e.Type = TypeDirectory
		} else {
			e.Type = TypeRegular
		}
	default:
		e.Type = TypeOther
	}

	// Header-only types never carry a payload body even if the on-wire
	// Size field says otherwise; zero it so tail-padding accounting
	// downstream never skips bytes that were never written.
	if isHeaderOnlyType(typeflag) || e.isDirectory() {
		e.Size = 0
	}

	if typeflag == tfGNUSparse {
		e.RealSize = p.parseOctal(field(blk, offGNURealSize, szGNURealSize))
		if p.err != nil {
			return nil, p.err
		}
		e.IsExtended = field(blk, offGNUExtended, 1)[0] != 0
	} else {
		e.RealSize = e.Size
	}

	return e, nil
}

// isDirectory/isLongName/... — observable downstream predicates named
// in spec §4.2, implemented directly on the classified Type rather
// than re-inspecting the typeflag byte.
func (e *Entry) isDirectory() bool    { return e.Type == TypeDirectory }
func (e *Entry) isLongName() bool     { return e.Type == TypeLongNameContinuation }
func (e *Entry) isLongLink() bool     { return e.Type == TypeLongLinkContinuation }
func (e *Entry) isOldGNUSparse() bool { return e.Type == TypeOldGNUSparse }
func (e *Entry) isPaxLocal() bool     { return e.Type == TypePAXLocalExtended }
func (e *Entry) isPaxGlobal() bool    { return e.Type == TypePAXGlobalExtended }
func (e *Entry) isPaxGNU1xSparse() bool {
	return e.SparseFormat == "1.0"
}
