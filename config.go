// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tarcursor

import "io"

// Unknown is the sentinel value decayed-to by out-of-range numeric
// header fields (mode, uid, gid, devmajor, devminor, mtime) when the
// cursor is configured to be Lenient.
const Unknown int64 = -1 << 62

// IsUnknown reports whether v is the Unknown sentinel.
func IsUnknown(v int64) bool { return v == Unknown }

// marker is the optional mark/rewind capability of a ByteSource, used
// only to peek a single lookahead record at end-of-archive. Advisory:
// a source that doesn't implement it is still fully supported.
type marker interface {
	Mark(readlimit int)
	Reset() error
}

// skipper is the optional best-effort skip-forward capability of a
// ByteSource. Sources without it are skipped over with io.CopyN.
type skipper interface {
	Skip(n int64) (int64, error)
}

// TextDecoder turns raw header bytes (names, link targets, PAX
// values) into strings. The cursor never fails because of a decoder;
// decode errors are the decoder's own business. See package
// textdecode for concrete implementations.
type TextDecoder interface {
	Decode(b []byte) string
}

// utf8Decoder is the zero-value TextDecoder: a direct byte-for-byte
// passthrough, valid for archives that are already UTF-8 (the common
// case for modern PAX/GNU archives).
type utf8Decoder struct{}

func (utf8Decoder) Decode(b []byte) string { return string(b) }

// ByteCounter receives the number of bytes consumed from the
// underlying source as the cursor advances. Used for block-alignment
// accounting; see package telemetry for a ready-made atomic counter.
type ByteCounter interface {
	Add(n int64)
}

type noopCounter struct{}

func (noopCounter) Add(int64) {}

// Config holds the cursor's immutable-for-its-lifetime settings.
type Config struct {
	RecordSize  int
	BlockSize   int
	TextDecoder TextDecoder
	Lenient     bool
	Counter     ByteCounter
}

// Option mutates a Config; see WithRecordSize, WithBlockSize,
// WithTextDecoder, WithLenient, WithByteCounter.
type Option func(*Config)

// DefaultRecordSize is the historical tar record size.
const DefaultRecordSize = 512

// DefaultBlockSize is ten records, the historical tar blocking factor.
const DefaultBlockSize = DefaultRecordSize * 10

func defaultConfig() Config {
	return Config{
		RecordSize:  DefaultRecordSize,
		BlockSize:   DefaultBlockSize,
		TextDecoder: utf8Decoder{},
		Counter:     noopCounter{},
	}
}

// WithRecordSize overrides the default 512-byte record size. Must be
// at least large enough to hold a header block.
func WithRecordSize(n int) Option {
	return func(c *Config) { c.RecordSize = n }
}

// WithBlockSize overrides the default ten-record block size used for
// tail-padding accounting.
func WithBlockSize(n int) Option {
	return func(c *Config) { c.BlockSize = n }
}

// WithTextDecoder supplies the capability used to decode names, link
// targets, and PAX values from raw bytes.
func WithTextDecoder(d TextDecoder) Option {
	return func(c *Config) {
		if d != nil {
			c.TextDecoder = d
		}
	}
}

// WithLenient makes out-of-range numeric header fields decay to
// Unknown instead of raising HeaderMalformed.
func WithLenient(lenient bool) Option {
	return func(c *Config) { c.Lenient = lenient }
}

// WithByteCounter supplies the telemetry sink that receives bytes
// consumed from the underlying source.
func WithByteCounter(bc ByteCounter) Option {
	return func(c *Config) {
		if bc != nil {
			c.Counter = bc
		}
	}
}

// byteSource is the forward-only contract the cursor consumes. An
// io.Reader is always sufficient; io.Closer, marker, and skipper are
// opportunistically used when present.
type byteSource struct {
	io.Reader
}

func (b byteSource) close() error {
	if c, ok := b.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
