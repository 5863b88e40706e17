/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package transport wraps an io.ReadWriteCloser byte stream — the engine's
// only external collaborator — with the byte/timestamp bookkeeping a demo
// can report alongside the engine's own frame counters.
package transport

import (
	"context"
	"io"
	"net"
	"time"
)

const (
	Opened = 0
	Closed = 1
)

var StateMap = map[int]string{
	Opened: "open",
	Closed: "close",
}

// ReportStatsFn is invoked on open and close (and may be nil).
type ReportStatsFn func(c *Conn, state int)

// Conn wraps an io.ReadWriteCloser transport (a net.Conn, a serial Port, a
// pipe — anything the engine can read bytes from and write bytes to),
// tracking byte counts and activity timestamps the way the teaching
// library's conniver.Conn tracks a TCP socket.
type Conn struct {
	io.ReadWriteCloser
	Context context.Context

	reportStats ReportStatsFn
	OpenedAt    int64
	ClosedAt    int64
	FirstRxAt   int64
	FirstTxAt   int64
	LastRxAt    int64
	LastTxAt    int64
	TxBytes     int64
	RxBytes     int64
	RxErr       error
	TxErr       error
	Reconnects  int
}

// Wrap wraps rwc, immediately reporting an Opened event if reportStatsFn is
// non-nil.
func Wrap(rwc io.ReadWriteCloser, reportStatsFn ReportStatsFn) *Conn {
	return WrapWithContext(context.Background(), rwc, reportStatsFn)
}

// WrapWithContext is Wrap with an explicit context, carried for the caller's
// own cancellation/correlation use; transport itself never consults it.
func WrapWithContext(ctx context.Context, rwc io.ReadWriteCloser, reportStatsFn ReportStatsFn) *Conn {
	c := &Conn{
		ReadWriteCloser: rwc,
		reportStats:     reportStatsFn,
		OpenedAt:        time.Now().UnixNano(),
		Context:         ctx,
	}
	c.report(Opened)
	return c
}

func (c *Conn) report(state int) {
	if c.reportStats != nil {
		c.reportStats(c, state)
	}
}

// SetReconnects records how many additional attempts were needed before this
// transport connected, for the host to manage and report.
func (c *Conn) SetReconnects(reconnects int) {
	c.Reconnects = reconnects
}

// Close reports a Closed event before closing the underlying transport.
func (c *Conn) Close() error {
	c.ClosedAt = time.Now().UnixNano()
	c.report(Closed)
	return c.ReadWriteCloser.Close()
}

// Read tracks received bytes and first/last receive-activity timestamps.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.ReadWriteCloser.Read(b)
	if err == nil && n > 0 {
		ts := time.Now().UnixNano()
		if c.FirstRxAt == 0 {
			c.FirstRxAt = ts
		}
		c.LastRxAt = ts
	}
	c.RxBytes += int64(n)
	if ne, ok := err.(net.Error); ok && !ne.Timeout() {
		c.RxErr = err
	} else if err != nil && !ok {
		c.RxErr = err
	}
	return n, err
}

// Write tracks sent bytes and first/last send-activity timestamps.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.ReadWriteCloser.Write(b)
	if err == nil && n > 0 {
		ts := time.Now().UnixNano()
		if c.FirstTxAt == 0 {
			c.FirstTxAt = ts
		}
		c.LastTxAt = ts
	}
	c.TxBytes += int64(n)
	c.TxErr = err
	if ne, ok := err.(net.Error); ok && !ne.Timeout() {
		c.TxErr = err
	}
	return n, err
}

// ToMap renders the byte/timing bookkeeping for logging, mirroring the
// teaching library's Conn.ToMap.
func (c *Conn) ToMap() map[string]any {
	m := map[string]any{
		"openedAt":   c.OpenedAt,
		"closedAt":   c.ClosedAt,
		"firstRxAt":  c.FirstRxAt,
		"firstTxAt":  c.FirstTxAt,
		"lastRxAt":   c.LastRxAt,
		"lastTxAt":   c.LastTxAt,
		"txBytes":    c.TxBytes,
		"rxBytes":    c.RxBytes,
		"reconnects": c.Reconnects,
	}
	if c.RxErr != nil {
		m["rxErr"] = c.RxErr.Error()
	}
	if c.TxErr != nil {
		m["txErr"] = c.TxErr.Error()
	}
	return m
}
