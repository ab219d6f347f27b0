// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tarcursor

import (
	"strconv"
	"strings"
	"time"
)

// applyPaxMap overlays a merged PAX keyword map onto entry, per spec
// §4.6 step 8. sideChannelSpans carries any GNU.sparse.offset/
// GNU.sparse.numbytes pairs already collected from the local header's
// side channel (0.0 dialect); callers pass nil when applying
// global-only PAX state, which never carries its own side channel.
func applyPaxMap(entry *Entry, merged map[string]string, sideChannelSpans []Span) error {
	entry.PAXRecords = merged

	for key, value := range merged {
		var err error
		switch key {
		case paxPath:
			entry.Name = value
		case paxLinkpath:
			entry.LinkName = value
		case paxUname:
			entry.Uname = value
		case paxGname:
			entry.Gname = value
		case paxSize:
			entry.Size, err = strconv.ParseInt(value, 10, 64)
		case paxUID:
			entry.UID, err = strconv.ParseInt(value, 10, 64)
		case paxGID:
			entry.GID, err = strconv.ParseInt(value, 10, 64)
		case paxMtime:
			entry.ModTime, err = parsePaxTime(value)
		case paxAtime:
			entry.AccessTime, err = parsePaxTime(value)
		case paxCtime:
			entry.ChangeTime, err = parsePaxTime(value)
		case paxSchilyDMaj:
			entry.DevMajor, err = strconv.ParseInt(value, 10, 64)
		case paxSchilyDMin:
			entry.DevMinor, err = strconv.ParseInt(value, 10, 64)
		default:
			if name, ok := strings.CutPrefix(key, paxSchilyXattr); ok {
				if entry.Xattrs == nil {
					entry.Xattrs = make(map[string]string)
				}
				entry.Xattrs[name] = value
			}
		}
		if err != nil {
			return newErr("apply_pax", ErrPaxMalformed, err)
		}
	}

	// RealSize tracks Size unless a GNU sparse extension below
	// overrides it with the true logical (dense) size.
	entry.RealSize = entry.Size

	if err := applyGNUSparseFields(entry, merged, sideChannelSpans); err != nil {
		return err
	}
	return nil
}

// applyGNUSparseFields recognizes the GNU.sparse.* family of PAX
// keywords (0.0/0.1/1.0 dialects) and sets the sparse-related Entry
// fields they govern.
func applyGNUSparseFields(entry *Entry, merged map[string]string, sideChannelSpans []Span) error {
	if name, ok := merged[paxSparseName]; ok && name != "" {
		entry.Name = name
	}

	realSize := merged[paxSparseSize]
	if realSize == "" {
		realSize = merged[paxSparseRealSize]
	}
	if realSize != "" {
		n, err := strconv.ParseInt(realSize, 10, 64)
		if err != nil {
			return newErr("apply_pax", ErrPaxMalformed, err)
		}
		entry.RealSize = n
	}

	major, minor := merged[paxSparseMajor], merged[paxSparseMinor]
	switch {
	case major != "" || minor != "":
		entry.SparseFormat = major + "." + minor
	case merged[paxSparseMap] != "":
		entry.SparseFormat = "0.1"
	case len(sideChannelSpans) > 0:
		entry.SparseFormat = "0.0"
	}

	if mapStr, ok := merged[paxSparseMap]; ok {
		spans, err := parsePAX01SparseMap(mapStr)
		if err != nil {
			return err
		}
		entry.SparseHeaders = spans
	} else if len(sideChannelSpans) > 0 {
		entry.SparseHeaders = sideChannelSpans
	}
	return nil
}

// parsePaxTime decodes a PAX timestamp: decimal seconds, optionally
// followed by '.' and up to 9 fractional digits, optionally preceded
// by '-'.
func parsePaxTime(s string) (time.Time, error) {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	secStr, fracStr, hasFrac := strings.Cut(s, ".")
	secs, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	var nsec int64
	if hasFrac {
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		} else {
			fracStr += strings.Repeat("0", 9-len(fracStr))
		}
		nsec, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
	}

	if neg {
		secs, nsec = -secs, -nsec
	}
	return time.Unix(secs, nsec), nil
}
