// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tarcursor implements a streaming, forward-only reader for
// UNIX tar byte streams.
//
// It exposes an EntryCursor: a cursor over a sequence of logical
// archive entries, each with a bounded sub-stream over its logical
// (possibly sparse-reconstructed) payload. It understands POSIX
// ustar, old-GNU, and PAX header dialects, GNU long-name/long-link
// continuation entries, and old-GNU/PAX 0.0/0.1/1.x sparse-file
// encodings.
//
// The package does not write tar archives, does not support seeking
// or rewinding the logical stream, and does not decompress wrapping
// codecs: callers are expected to hand it an already-decompressed
// io.Reader. See cmd/tarcursor for a CLI that does the decompression.
package tarcursor
