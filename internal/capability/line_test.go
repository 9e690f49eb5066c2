package capability

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "capsd/internal/errors"
	"capsd/internal/metrics"
	"capsd/internal/session"
	"capsd/internal/transform"
	"capsd/util"
)

// harness runs LineTransform over an in-memory pipe.
type harness struct {
	client net.Conn
	reader *bufio.Reader
	sess   *session.Session
	done   chan error
}

func startHandler(t *testing.T, ctx context.Context, c *LineTransform) *harness {
	t.Helper()
	server, client := net.Pipe()
	return startHandlerOn(t, ctx, c, server, client)
}

// startHandlerOn serves c on server while the test drives client.
func startHandlerOn(t *testing.T, ctx context.Context, c *LineTransform, server, client net.Conn) *harness {
	t.Helper()
	h := &harness{
		client: client,
		reader: bufio.NewReader(client),
		sess:   session.New(server, util.NewLogger(0)),
		done:   make(chan error, 1),
	}
	go func() {
		err := c.Handle(ctx, h.sess)
		h.sess.Close() //nolint:errcheck
		h.done <- err
	}()
	t.Cleanup(func() { client.Close() })
	return h
}

func (h *harness) send(t *testing.T, s string) {
	t.Helper()
	h.client.SetWriteDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, err := io.WriteString(h.client, s)
	require.NoError(t, err)
}

func (h *harness) recv(t *testing.T) string {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	line, err := h.reader.ReadString('\n')
	require.NoError(t, err)
	return line
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
		return nil
	}
}

func uppercase() *LineTransform {
	return &LineTransform{Transformer: &transform.Uppercase{}}
}

func TestLineTransform_Responses(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello\n", "HELLO\n"},
		{"  MiXeD CaSe \n", "MIXED CASE\n"},
		{"windows\r\n", "WINDOWS\n"},
		{"   \n", "\n"},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			h := startHandler(t, context.Background(), uppercase())
			h.send(t, tt.input)
			assert.Equal(t, tt.want, h.recv(t))
		})
	}
}

func TestLineTransform_EmptyLineCloses(t *testing.T) {
	h := startHandler(t, context.Background(), uppercase())

	h.send(t, "\n")
	require.NoError(t, h.wait(t))

	h.client.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	n, err := h.reader.Read(make([]byte, 16))
	assert.Equal(t, 0, n, "no response bytes expected")
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineTransform_PreservesOrder(t *testing.T) {
	c := &LineTransform{Transformer: &transform.Uppercase{Delay: 5 * time.Millisecond}}
	h := startHandler(t, context.Background(), c)

	words := []string{"one", "two", "three", "four", "five"}
	go func() {
		for _, w := range words {
			io.WriteString(h.client, w+"\n") //nolint:errcheck
		}
	}()

	for _, w := range words {
		assert.Equal(t, strings.ToUpper(w)+"\n", h.recv(t))
	}
}

func TestLineTransform_PeerCloseAtBoundary(t *testing.T) {
	m := metrics.New()
	c := uppercase()
	c.Metrics = m
	h := startHandler(t, context.Background(), c)

	h.send(t, "abc\n")
	assert.Equal(t, "ABC\n", h.recv(t))
	h.client.Close()

	assert.NoError(t, h.wait(t))
	assert.Equal(t, int64(1), m.LinesProcessed())
	assert.Equal(t, int64(4), m.TotalBytesIn())
	assert.Equal(t, int64(4), m.TotalBytesOut())
	assert.Zero(t, m.ErrorCount())
}

func TestLineTransform_DroppedMidLine(t *testing.T) {
	m := metrics.New()
	c := uppercase()
	c.Metrics = m
	h := startHandler(t, context.Background(), c)

	h.send(t, "unfinish")
	h.client.Close()

	err := h.wait(t)
	assert.ErrorIs(t, err, ncerr.ErrPartialLine)
	assert.Equal(t, int64(1), m.ErrorCount())
}

func TestLineTransform_LineTooLong(t *testing.T) {
	c := uppercase()
	c.MaxLineLength = 8
	h := startHandler(t, context.Background(), c)

	go io.WriteString(h.client, "this line is far too long\n") //nolint:errcheck

	err := h.wait(t)
	assert.ErrorIs(t, err, ncerr.ErrLineTooLong)
}

func TestLineTransform_WriteFailure(t *testing.T) {
	m := metrics.New()
	c := uppercase()
	c.Metrics = m
	h := startHandler(t, context.Background(), c)

	// The peer goes away before the response is written.
	h.send(t, "hello\n")
	h.client.Close()

	err := h.wait(t)
	var ne *ncerr.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "write", ne.Op)
	assert.Equal(t, int64(0), m.LinesProcessed())
	assert.Equal(t, int64(1), m.ErrorCount())
}

func TestLineTransform_ReadTimeout(t *testing.T) {
	c := uppercase()
	c.ReadTimeout = 50 * time.Millisecond
	h := startHandler(t, context.Background(), c)

	err := h.wait(t)
	assert.True(t, ncerr.IsTimeout(err), "expected timeout, got %v", err)
}

func TestLineTransform_ShutdownInterruptsRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startHandler(t, ctx, uppercase())

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := h.wait(t)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestLineTransform_ShutdownInterruptsTransform(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &LineTransform{Transformer: &transform.Uppercase{Delay: 10 * time.Second}}
	h := startHandler(t, ctx, c)

	h.send(t, "slow\n")
	cancel()

	err := h.wait(t)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLineTransform_ShutdownDuringTransformDoesNotHang(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The transformer finishes its work even though shutdown started
	// while it ran, so the abort lands before the next deadlines are set.
	c := &LineTransform{
		Transformer: transform.Func(func(_ context.Context, line string) (string, error) {
			cancel()
			time.Sleep(50 * time.Millisecond)
			return transform.Apply(line), nil
		}),
	}
	h := startHandler(t, ctx, c)

	h.send(t, "hi\n")

	err := h.wait(t)
	assert.ErrorIs(t, err, context.Canceled)
}

// expiringConn behaves like a tunnelled stream: when the read deadline
// passes, the whole connection is torn down instead of just failing the
// pending read.
type expiringConn struct {
	net.Conn
	mu    sync.Mutex
	timer *time.Timer
}

func (c *expiringConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if t.IsZero() {
		return nil
	}
	c.timer = time.AfterFunc(time.Until(t), func() { c.Conn.Close() })
	return nil
}

func (c *expiringConn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t) //nolint:errcheck
	return c.Conn.SetWriteDeadline(t)
}

func TestLineTransform_ReadTimeoutDoesNotCoverTransform(t *testing.T) {
	c := &LineTransform{
		Transformer: &transform.Uppercase{Delay: 150 * time.Millisecond},
		ReadTimeout: 100 * time.Millisecond,
	}
	server, client := net.Pipe()
	h := startHandlerOn(t, context.Background(), c, &expiringConn{Conn: server}, client)

	h.send(t, "hi\n")
	assert.Equal(t, "HI\n", h.recv(t))

	// Idle after the reply: the read timeout applies again and the
	// stream is torn down.
	h.wait(t) //nolint:errcheck
}
