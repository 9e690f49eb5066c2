// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a capsd server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a capsd server.
// A nil Collector is safe to use; every method becomes a no-op.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	admissionWaits    atomic.Int64
	linesProcessed    atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	acceptErrors      atomic.Int64
	sessionErrors     atomic.Int64

	mu            sync.RWMutex
	startTime     time.Time
	lastHeartbeat time.Time
	lastError     time.Time
	lastErrorMsg  string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// AdmissionWait records that the accept loop had to wait for a free
// connection slot.
func (c *Collector) AdmissionWait() {
	if c == nil {
		return
	}
	c.admissionWaits.Add(1)
}

// AdmissionWaits returns how often the connection limit was hit.
func (c *Collector) AdmissionWaits() int64 {
	if c == nil {
		return 0
	}
	return c.admissionWaits.Load()
}

// ── Line / I/O metrics ───────────────────────────────────────────────

// LineProcessed records one request line answered.
func (c *Collector) LineProcessed() {
	if c == nil {
		return
	}
	c.linesProcessed.Add(1)
}

// LinesProcessed returns the number of lines answered.
func (c *Collector) LinesProcessed() int64 {
	if c == nil {
		return 0
	}
	return c.linesProcessed.Load()
}

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// AcceptError records a failed accept call.
func (c *Collector) AcceptError(msg string) {
	if c == nil {
		return
	}
	c.acceptErrors.Add(1)
	c.recordLast(msg)
}

// SessionError records a read or write failure on an established
// connection.
func (c *Collector) SessionError(msg string) {
	if c == nil {
		return
	}
	c.sessionErrors.Add(1)
	c.recordLast(msg)
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.acceptErrors.Load() + c.sessionErrors.Load()
}

func (c *Collector) recordLast(msg string) {
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Health ───────────────────────────────────────────────────────────

// RecordHeartbeat updates the last heartbeat timestamp.
func (c *Collector) RecordHeartbeat() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	AdmissionWaits    int64  `json:"admission_waits"`
	LinesProcessed    int64  `json:"lines_processed"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	AcceptErrors      int64  `json:"accept_errors"`
	SessionErrors     int64  `json:"session_errors"`
	LastHeartbeat     string `json:"last_heartbeat,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		AdmissionWaits:    c.admissionWaits.Load(),
		LinesProcessed:    c.linesProcessed.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		AcceptErrors:      c.acceptErrors.Load(),
		SessionErrors:     c.sessionErrors.Load(),
	}
	if !c.lastHeartbeat.IsZero() {
		s.LastHeartbeat = c.lastHeartbeat.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// Summary renders the headline numbers as a single key=value line,
// suitable for a heartbeat log entry.
func (s Snapshot) Summary() string {
	return fmt.Sprintf("uptime=%s active=%d total=%d lines=%d errors=%d",
		s.Uptime, s.ConnectionsActive, s.ConnectionsTotal,
		s.LinesProcessed, s.AcceptErrors+s.SessionErrors)
}

// JSON returns the snapshot as a single-line JSON object.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.Marshal(s)
	return string(data)
}
