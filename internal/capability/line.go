package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	ncerr "capsd/internal/errors"
	"capsd/internal/metrics"
	"capsd/internal/session"
	"capsd/internal/transform"
	"capsd/util"
)

// LineTransform answers every newline-terminated request line with the
// transformed line.  Lines are handled strictly in order: a response is
// fully written before the next line is read.  An empty line ends the
// session without a reply.
type LineTransform struct {
	Transformer   transform.Transformer
	MaxLineLength int           // 0 = unlimited
	ReadTimeout   time.Duration // per line; 0 = wait forever
	WriteTimeout  time.Duration // per response; 0 = wait forever
	Metrics       *metrics.Collector
}

// Handle implements [Capability].
func (c *LineTransform) Handle(ctx context.Context, sess *session.Session) error {
	log := sess.Logger

	// Shutdown: fail whatever read or write is in flight.
	stop := context.AfterFunc(ctx, sess.Abort)
	defer stop()

	for {
		if err := sess.Reader.SetDeadline(c.ReadTimeout); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line, n, err := sess.Reader.ReadLine(c.MaxLineLength)
		c.Metrics.BytesReceived(int64(n))
		if err != nil {
			return c.readFailed(ctx, sess, err)
		}
		// The idle timer must not run while the line is being served:
		// some transports tear the whole stream down when it fires.
		if err := sess.Reader.SetDeadline(0); err != nil {
			return fmt.Errorf("clear read deadline: %w", err)
		}

		if line == "" {
			log.Info("empty line from %s, closing", sess.Peer)
			return nil
		}

		log.Verbose("line received (%d bytes)", n)
		resp, err := c.Transformer.Transform(ctx, line)
		if err != nil {
			// Only a cancelled context makes the transformer fail.
			return fmt.Errorf("transform: %w", err)
		}

		if err := sess.Writer.SetDeadline(c.WriteTimeout); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		written, err := sess.Writer.WriteLine(resp)
		c.Metrics.BytesSent(int64(written))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("write to %s failed: %v", sess.Peer, err)
			c.Metrics.SessionError(fmt.Sprintf("write %s: %v", sess.Peer, err))
			return ncerr.Wrap("write", sess.Peer, err)
		}
		c.Metrics.LineProcessed()
		log.Verbose("response sent (%d bytes)", written)
	}
}

// readFailed classifies a read error, logs it at the right level and
// returns what Handle should report.
func (c *LineTransform) readFailed(ctx context.Context, sess *session.Session, err error) error {
	log := sess.Logger
	switch {
	case errors.Is(err, io.EOF):
		log.Info("peer closed the connection")
		return nil
	case ctx.Err() != nil:
		log.Verbose("read interrupted by shutdown")
		return ctx.Err()
	case errors.Is(err, ncerr.ErrPartialLine):
		log.Warn("read: %v, discarding unterminated data", err)
	case errors.Is(err, ncerr.ErrLineTooLong):
		log.Warn("read: %v (limit %d bytes)", err, c.MaxLineLength)
	case ncerr.IsTimeout(err):
		log.Warn("read: idle for more than %s", c.ReadTimeout)
	case util.IsPeerReset(err):
		log.Warn("read: connection reset by peer")
	case util.IsClosedConn(err):
		log.Info("connection closed")
		return nil
	default:
		log.Warn("read: %v", err)
	}
	c.Metrics.SessionError(fmt.Sprintf("read %s: %v", sess.Peer, err))
	return ncerr.Wrap("read", sess.Peer, err)
}
