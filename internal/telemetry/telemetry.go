// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package telemetry provides the concrete tarcursor.ByteCounter used
// by callers that want to observe how many bytes an EntryCursor has
// pulled from its source — for progress reporting, rate limiting, or
// publishing to expvar/log/slog.
package telemetry

import (
	"expvar"
	"sync/atomic"
)

// Counter is an atomic, concurrency-safe byte counter satisfying
// tarcursor.ByteCounter. The zero value starts at 0.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Add(n int64) { c.n.Add(n) }

// Total returns the cumulative count so far.
func (c *Counter) Total() int64 { return c.n.Load() }

// Publish exposes the counter under name via expvar, for processes
// already serving a /debug/vars endpoint.
func (c *Counter) Publish(name string) {
	expvar.Publish(name, expvar.Func(func() any { return c.Total() }))
}
