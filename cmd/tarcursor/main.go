// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tarcursor lists or extracts entries from one or more tar
// streams, transparently unwrapping gzip/bzip2/xz/zstd compression
// and filtering by glob pattern.
package main

import (
	"compress/bzip2"
	"compress/gzip"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/therootcompany/xz"
	"golang.org/x/sync/errgroup"

	"github.com/coldarchive/tarcursor"
	"github.com/coldarchive/tarcursor/internal/telemetry"
)

var (
	listOnly = flag.Bool("t", false, "list entries instead of extracting")
	pattern  = flag.String("name", "", "only act on entries matching this glob")
	lenient  = flag.Bool("lenient", false, "tolerate out-of-range numeric header fields")
	verbose  = flag.Bool("v", false, "log progress to stderr")
	outDir   = flag.String("C", ".", "directory to extract into")
	jobs     = flag.Int("j", 1, "number of archives to process concurrently")
)

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] archive...\n", os.Args[0])
		os.Exit(2)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	g := new(errgroup.Group)
	g.SetLimit(*jobs)
	for _, path := range flag.Args() {
		path := path
		g.Go(func() error { return processArchive(path, logger) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("failed", "err", err)
		os.Exit(1)
	}
}

func processArchive(path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	r, err := unwrapCompression(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var counter telemetry.Counter
	cursor := tarcursor.NewEntryCursor(r,
		tarcursor.WithLenient(*lenient),
		tarcursor.WithByteCounter(&counter),
	)
	defer cursor.Close()

	for {
		entry, err := cursor.NextEntry()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if entry == nil {
			break
		}
		if *pattern != "" {
			ok, err := doublestar.Match(*pattern, entry.Name)
			if err != nil {
				return fmt.Errorf("%s: bad -name pattern: %w", path, err)
			}
			if !ok {
				continue
			}
		}

		if *listOnly {
			fmt.Printf("%12d  %s\n", entry.RealSize, entry.Name)
			continue
		}
		if err := extractEntry(*outDir, entry, cursor); err != nil {
			return fmt.Errorf("%s: %s: %w", path, entry.Name, err)
		}
	}

	logger.Info("processed archive", "path", path, "bytes", counter.Total())
	return nil
}

// unwrapCompression sniffs the leading bytes of f (which must support
// rewinding via an io.Seeker, as os.File does) for a known
// compression signature and returns a plain decompressed stream.
// An unrecognized signature passes f through unchanged.
func unwrapCompression(f *os.File) (io.Reader, error) {
	magic := make([]byte, 6)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	magic = magic[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	matchAt := func(sig string) bool {
		return len(magic) >= len(sig) && string(magic[:len(sig)]) == sig
	}

	switch {
	case matchAt("\x1f\x8b"):
		return gzip.NewReader(f)
	case matchAt("BZh"):
		return bzip2.NewReader(f), nil
	case matchAt("\xfd7zXZ\x00"):
		return xz.NewReader(f, xz.DefaultDictMax)
	case matchAt("\x28\xb5\x2f\xfd"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return f, nil
	}
}

func extractEntry(dir string, entry *tarcursor.Entry, r io.Reader) error {
	target, err := safeJoin(dir, entry.Name)
	if err != nil {
		return err
	}

	switch {
	case entry.Type == tarcursor.TypeDirectory:
		return os.MkdirAll(target, 0o755)
	case entry.Type == tarcursor.TypeSymlink:
		if err := os.MkdirAll(parentDir(target), 0o755); err != nil {
			return err
		}
		return os.Symlink(entry.LinkName, target)
	default:
		if err := os.MkdirAll(parentDir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(entry.Mode))
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, r)
		return err
	}
}
