// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"path/filepath"
	"strings"
)

// safeJoin joins dir and name, rejecting any entry whose resolved
// path would land outside dir (a path traversal via "../" segments).
// An absolute entry name is joined beneath dir, not rejected.
func safeJoin(dir, name string) (string, error) {
	cleanDir := filepath.Clean(dir)
	joined := filepath.Join(cleanDir, name)
	rel, err := filepath.Rel(cleanDir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes extraction directory", name)
	}
	return joined, nil
}

func parentDir(path string) string { return filepath.Dir(path) }
