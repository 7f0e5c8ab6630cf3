// Package tasks runs the relay's background loops.
package tasks

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const maxBackoff = 30 * time.Second

// Group runs named background tasks that share one context. A panicking task
// is restarted with exponential backoff instead of taking the process down;
// a task that returns an error cancels its siblings.
type Group struct {
	ctx    context.Context
	group  *errgroup.Group
	logger zerolog.Logger
}

func NewGroup(ctx context.Context, logger zerolog.Logger) *Group {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{ctx: gctx, group: g, logger: logger.With().Str("component", "tasks").Logger()}
}

// Go starts fn.
func (g *Group) Go(name string, fn func(context.Context) error) {
	ctx := g.ctx
	logger := g.logger.With().Str("task", name).Logger()
	g.group.Go(func() (err error) {
		backoff := 200 * time.Millisecond
		for {
			if ctx.Err() != nil {
				return nil
			}

			panicked := false
			var recovered any
			func() {
				defer func() {
					if r := recover(); r != nil {
						panicked = true
						recovered = r
					}
				}()
				err = fn(ctx)
			}()

			if !panicked {
				if err != nil {
					logger.Error().Err(err).Msg("task failed")
					return fmt.Errorf("%s: %w", name, err)
				}
				return nil
			}

			// The logger may be what panicked.
			_, _ = fmt.Fprintf(os.Stderr, "WARN: task %s panicked: %v\n%s\n", name, recovered, debug.Stack())
			restarts.WithLabelValues(name).Inc()

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	})
}

// Every runs fn immediately and then on each tick until ctx is done. Each
// call is bounded by the interval.
func (g *Group) Every(name string, interval time.Duration, fn func(context.Context)) {
	g.Go(name, func(ctx context.Context) error {
		return Every(ctx, interval, fn)
	})
}

// Wait blocks until every task has returned.
func (g *Group) Wait() error {
	return g.group.Wait()
}

// Every calls fn on a ticker until ctx is done.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runs.Inc()
		fn(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
