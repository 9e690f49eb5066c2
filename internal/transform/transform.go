// Package transform turns one request line into one response line.
//
// The default transformer trims and uppercases the line after a fixed
// artificial delay that stands in for real work (an external call or a
// computation).  The delay waits on a timer, so it only parks the
// calling goroutine.
package transform

import (
	"context"
	"strings"
	"time"

	"capsd/util"
)

// DefaultDelay is the simulated processing time per line.
const DefaultDelay = 150 * time.Millisecond

// Transformer maps a request line to its response line.  It returns an
// error only when ctx ends before the work is done.
type Transformer interface {
	Transform(ctx context.Context, line string) (string, error)
}

// Func adapts an ordinary function to [Transformer].
type Func func(ctx context.Context, line string) (string, error)

// Transform calls f.
func (f Func) Transform(ctx context.Context, line string) (string, error) {
	return f(ctx, line)
}

// Uppercase trims surrounding whitespace and converts the line to upper
// case after waiting Delay.
type Uppercase struct {
	Delay  time.Duration
	Logger *util.Logger // optional
}

// Transform implements [Transformer].
func (u *Uppercase) Transform(ctx context.Context, line string) (string, error) {
	if u.Logger != nil {
		u.Logger.Info("-> processing %q", strings.TrimSpace(line))
	}

	if u.Delay > 0 {
		t := time.NewTimer(u.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}

	out := Apply(line)
	if u.Logger != nil {
		u.Logger.Info("<- responding %q", out)
	}
	return out, nil
}

// Apply is the delay-free core of [Uppercase].
func Apply(line string) string {
	return strings.ToUpper(strings.TrimSpace(line))
}
