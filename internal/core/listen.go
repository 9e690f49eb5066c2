package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"capsd/internal/capability"
	ncerr "capsd/internal/errors"
	"capsd/internal/heartbeat"
	"capsd/internal/metrics"
	"capsd/internal/retry"
	"capsd/internal/session"
	"capsd/internal/transport"
	"capsd/util"
)

// ServeMode accepts connections for as long as its context lives and
// runs Capability on each one in its own goroutine.
type ServeMode struct {
	Listener   transport.Listener
	Capability capability.Capability
	Heartbeat  *heartbeat.Emitter // optional

	// MaxConns bounds concurrently served connections; 0 = unlimited.
	MaxConns int

	// GracePeriod is how long shutdown waits for running handlers before
	// closing their connections.
	GracePeriod time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector

	// Address names the endpoint in error messages.
	Address string

	// OnListen, when set, is called with the bound address before the
	// first Accept.
	OnListen func(net.Addr)
}

// Run binds, serves until ctx is cancelled and then shuts down.  The
// only errors it returns are a failed bind and an unexpectedly closed
// listener.
func (m *ServeMode) Run(ctx context.Context) error {
	ln, err := m.Listener.Listen(ctx)
	defer m.Listener.Close()
	if err != nil {
		return &ncerr.NetworkError{Op: "listen", Addr: m.Address, Err: err}
	}

	m.Logger.Info("listening on %s", ln.Addr())
	if m.OnListen != nil {
		m.OnListen(ln.Addr())
	}

	// Handlers outlive ctx by up to GracePeriod.
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()
	var handlers sync.WaitGroup

	g, gctx := errgroup.WithContext(ctx)

	// Closing the listener is what unblocks Accept.
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})

	if m.Heartbeat != nil {
		g.Go(func() error {
			m.Heartbeat.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		return m.acceptLoop(gctx, handlerCtx, ln, &handlers)
	})

	err = g.Wait()
	m.drain(cancelHandlers, &handlers)
	if m.Metrics != nil {
		m.Logger.Info("stopped: %s", m.Metrics.Snapshot().Summary())
	}
	return err
}

// ── Accept loop ──────────────────────────────────────────────────────

func (m *ServeMode) acceptLoop(ctx, handlerCtx context.Context, ln net.Listener, handlers *sync.WaitGroup) error {
	var sem *semaphore.Weighted
	if m.MaxConns > 0 {
		sem = semaphore.NewWeighted(int64(m.MaxConns))
	}

	for {
		// Take the slot before Accept so excess clients wait in the
		// kernel backlog instead of holding a goroutine.
		if sem != nil && !sem.TryAcquire(1) {
			m.Metrics.AdmissionWait()
			m.Logger.Verbose("connection limit (%d) reached, waiting for a free slot", m.MaxConns)
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := m.accept(ctx, ln)
		if err != nil {
			if sem != nil {
				sem.Release(1)
			}
			if ctx.Err() != nil {
				return nil
			}
			m.Logger.Error("listener closed unexpectedly: %v", err)
			return ncerr.Wrap("accept", m.addr(ln), err)
		}

		m.Logger.Verbose("spawning handler for %s", util.PeerAddr(conn))
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			m.serveConn(handlerCtx, conn)
		}()
	}
}

// accept retries failed Accept calls with backoff.  The schedule
// restarts from its initial delay after every success.
func (m *ServeMode) accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	b := retry.AcceptBackoff()
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		kind := "error"
		if ncerr.IsRetryable(err) {
			kind = "transient error"
		}
		m.Logger.Warn("failed to accept connection (%s, attempt %d, retrying in %s): %v",
			kind, attempt, wait, err)
		m.Metrics.AcceptError(err.Error())
	}

	var conn net.Conn
	err := b.Do(ctx, func(int) error {
		c, err := ln.Accept()
		if err == nil {
			conn = c
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return retry.Permanent(err)
		}
		return err
	})
	return conn, err
}

// ── Per-connection ───────────────────────────────────────────────────

func (m *ServeMode) serveConn(ctx context.Context, conn net.Conn) {
	sess := session.New(conn, m.Logger)
	m.Metrics.ConnectionOpened()
	sess.Logger.Info("connection from %s accepted", sess.Peer)

	err := m.Capability.Handle(ctx, sess)

	sess.Close() //nolint:errcheck
	m.Metrics.ConnectionClosed()
	sess.Logger.Info("connection from %s closed (%s)", sess.Peer, closeReason(err))
}

func closeReason(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, context.Canceled):
		return "shutdown"
	default:
		return err.Error()
	}
}

// ── Shutdown ─────────────────────────────────────────────────────────

// drain waits up to GracePeriod for handlers, then cancels the rest and
// waits for them to unwind.
func (m *ServeMode) drain(cancel context.CancelFunc, handlers *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		handlers.Wait()
		close(done)
	}()

	active := m.Metrics.ActiveConnections()
	if active > 0 && m.GracePeriod > 0 {
		m.Logger.Info("shutting down, waiting up to %s for %d connection(s)", m.GracePeriod, active)
	}

	if m.GracePeriod > 0 {
		timer := time.NewTimer(m.GracePeriod)
		defer timer.Stop()
		select {
		case <-done:
			m.Logger.Verbose("all connections finished")
			return
		case <-timer.C:
			m.Logger.Warn("grace period expired, closing %d connection(s)", m.Metrics.ActiveConnections())
		}
	}

	cancel()
	<-done
}

func (m *ServeMode) addr(ln net.Listener) string {
	if m.Address != "" {
		return m.Address
	}
	return ln.Addr().String()
}
