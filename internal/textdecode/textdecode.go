// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package textdecode provides concrete tarcursor.TextDecoder
// implementations: a UTF-8 passthrough and a legacy-codepage decoder
// for archives produced by tools that never heard of Unicode. Decoded
// strings are cached, since the same path components (directory
// prefixes, common extensions) recur heavily across one archive's
// entries.
package textdecode

import (
	"hash/maphash"
	"sync"

	"github.com/dgryski/go-tinylfu"
	"golang.org/x/text/encoding/charmap"
)

// UTF8 decodes header byte strings as already-UTF-8, with no
// conversion and no caching: the common case for modern GNU/PAX
// archives, where paying for a cache lookup would be pure overhead.
type UTF8 struct{}

func (UTF8) Decode(b []byte) string { return string(b) }

// Legacy decodes header byte strings through a single-byte legacy
// codepage (e.g. charmap.CodePage437, charmap.ISO8859_1), caching
// decoded results so repeated byte sequences across an archive's
// entries are converted once.
type Legacy struct {
	enc   *charmap.Charmap
	cache *tinylfu.T[string, string]
	mu    sync.Mutex
}

// NewLegacy returns a Legacy decoder using enc, caching up to
// capacity distinct decoded strings.
func NewLegacy(enc *charmap.Charmap, capacity int) *Legacy {
	return &Legacy{
		enc:   enc,
		cache: tinylfu.New[string, string](capacity, capacity*10, hashString),
	}
}

var seed = maphash.MakeSeed()

func hashString(s string) uint64 { return maphash.String(seed, s) }

func (d *Legacy) Decode(b []byte) string {
	key := string(b)

	d.mu.Lock()
	if v, ok := d.cache.Get(key); ok {
		d.mu.Unlock()
		return v
	}
	d.mu.Unlock()

	out, err := d.enc.NewDecoder().Bytes(b)
	var decoded string
	if err != nil {
		// Fall back to a lossy byte-for-byte view rather than
		// failing: a TextDecoder never errors (see tarcursor.TextDecoder).
		decoded = string(b)
	} else {
		decoded = string(out)
	}

	d.mu.Lock()
	d.cache.Add(key, decoded)
	d.mu.Unlock()
	return decoded
}

// CP437 is the legacy codepage most commonly seen from DOS-era tar
// and PKZIP-adjacent tooling.
func CP437(capacity int) *Legacy { return NewLegacy(charmap.CodePage437, capacity) }

// Latin1 is ISO-8859-1, the other common legacy filename encoding.
func Latin1(capacity int) *Legacy { return NewLegacy(charmap.ISO8859_1, capacity) }
