// Package session represents a single connection lifecycle.
//
// An accepted connection is split into a read half and a write half.
// Each half is owned and released independently; the underlying socket
// is closed only when both have been released.  This lets a handler hand
// the write half to another goroutine without either side having to
// know when the other is finished.
package session

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	ncerr "capsd/internal/errors"
	"capsd/util"
)

// Session encapsulates the runtime context for a single connection.
// Capabilities operate on sessions rather than raw connections.
type Session struct {
	ID     string
	Peer   string
	Conn   net.Conn
	Logger *util.Logger

	Reader *ReadHalf
	Writer *WriteHalf

	// deadlineMu orders Abort against the halves arming deadlines, so a
	// late SetDeadline can never clear an abort.
	deadlineMu sync.Mutex
	aborted    bool

	refs      atomic.Int32
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New creates a Session for conn with a fresh ID.  The returned
// session's logger is tagged with a short form of the ID.
func New(conn net.Conn, logger *util.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:     id,
		Peer:   util.PeerAddr(conn),
		Conn:   conn,
		Logger: logger.With("conn " + id[:8]),
		closed: make(chan struct{}),
	}
	s.refs.Store(2)
	s.Reader = &ReadHalf{s: s, r: util.GetReader(conn)}
	s.Writer = &WriteHalf{s: s}
	return s
}

// Abort forces every pending and future read and write on the
// connection to fail immediately.  The halves still have to be
// released.
func (s *Session) Abort() {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	s.aborted = true
	s.Conn.SetDeadline(time.Now()) //nolint:errcheck
}

// setDeadline arms one direction's deadline d from now (d <= 0 clears
// it).  After Abort the deadline stays in the past.
func (s *Session) setDeadline(set func(time.Time) error, d time.Duration) error {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	switch {
	case s.aborted:
		return set(time.Now())
	case d <= 0:
		return set(time.Time{})
	default:
		return set(time.Now().Add(d))
	}
}

// Close releases whichever halves are still held, closing the socket.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.Reader.Release() //nolint:errcheck
	s.Writer.Release() //nolint:errcheck
	<-s.closed
	return s.closeErr
}

// unref drops one half's reference and closes the socket on the last.
func (s *Session) unref() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.Conn.Close()
		close(s.closed)
	})
	return s.closeErr
}

// ── Read half ────────────────────────────────────────────────────────

// ReadHalf is the receiving side of a session.  It is not safe for
// concurrent use; exactly one goroutine reads.
type ReadHalf struct {
	s        *Session
	r        *bufio.Reader
	released atomic.Bool
}

// SetDeadline bounds the next reads.  A zero duration clears it.
func (h *ReadHalf) SetDeadline(d time.Duration) error {
	return h.s.setDeadline(h.s.Conn.SetReadDeadline, d)
}

// ReadLine returns the next newline-terminated line with the "\n" (and
// a preceding "\r") removed, together with the number of raw bytes
// consumed.  Lines longer than maxLen fail with ErrLineTooLong (maxLen
// <= 0 disables the limit).  Data followed by EOF without a terminator
// fails with ErrPartialLine; a clean EOF is returned as io.EOF.
func (h *ReadHalf) ReadLine(maxLen int) (string, int, error) {
	if h.released.Load() {
		return "", 0, ncerr.ErrReleased
	}

	var buf []byte
	n := 0
	for {
		frag, err := h.r.ReadSlice('\n')
		n += len(frag)
		switch {
		case err == nil:
			buf = append(buf, frag...)
			line := bytes.TrimSuffix(buf[:len(buf)-1], []byte{'\r'})
			if maxLen > 0 && len(line) > maxLen {
				return "", n, ncerr.ErrLineTooLong
			}
			return string(line), n, nil

		case errors.Is(err, bufio.ErrBufferFull):
			buf = append(buf, frag...)
			if maxLen > 0 && len(buf) > maxLen+1 {
				return "", n, ncerr.ErrLineTooLong
			}

		case errors.Is(err, io.EOF) && len(buf)+len(frag) > 0:
			return "", n, ncerr.ErrPartialLine

		default:
			return "", n, err
		}
	}
}

// Release gives up the read half.  The pooled buffer is recycled and
// the socket is closed if the write half is already released.
func (h *ReadHalf) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	util.PutReader(h.r)
	h.r = nil
	return h.s.unref()
}

// ── Write half ───────────────────────────────────────────────────────

// WriteHalf is the sending side of a session.  Writes are serialised,
// so it may be shared with other goroutines.
type WriteHalf struct {
	s        *Session
	mu       sync.Mutex
	released atomic.Bool
}

// SetDeadline bounds the next writes.  A zero duration clears it.
func (h *WriteHalf) SetDeadline(d time.Duration) error {
	return h.s.setDeadline(h.s.Conn.SetWriteDeadline, d)
}

// WriteLine sends line followed by "\n" in a single write so the peer
// sees one response per request.
func (h *WriteHalf) WriteLine(line string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released.Load() {
		return 0, ncerr.ErrReleased
	}

	msg := make([]byte, 0, len(line)+1)
	msg = append(msg, line...)
	msg = append(msg, '\n')
	return h.s.Conn.Write(msg)
}

// Release gives up the write half, closing the socket if the read half
// is already released.
func (h *WriteHalf) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	return h.s.unref()
}
