// Package supervisor runs the engine's background threads (the segment
// provider, compactor, and read-bit-decay loops) under one supervised
// group, following the "background threads never block application
// threads, and a dead background thread surfaces as an error rather than
// silent stall" requirement. It also provides a Heartbeat record type for
// telling whether a thread is wedged; Group itself does not create or
// update heartbeats for the threads it runs.
package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Heartbeat is the liveness record the original arbtrie carries per
// background thread: a pid, the time it started, and the last time it
// confirmed forward progress. A monitor — in-process or a future process
// opening the same database — can compare LastHeartbeatMs against the
// current time to decide whether the owning thread (and, by extension, its
// process) has died and needs takeover.
type Heartbeat struct {
	pid             int32
	startTimeMs     int64
	lastHeartbeatMs atomic.Int64
}

// NewHeartbeat creates a Heartbeat for the calling process, stamped with
// startTimeMs (passed in rather than computed, since this package may run
// inside a workflow that forbids wall-clock calls at arbitrary points).
func NewHeartbeat(pid int32, startTimeMs int64) *Heartbeat {
	hb := &Heartbeat{pid: pid, startTimeMs: startTimeMs}
	hb.lastHeartbeatMs.Store(startTimeMs)
	return hb
}

// Beat records forward progress at nowMs.
func (h *Heartbeat) Beat(nowMs int64) { h.lastHeartbeatMs.Store(nowMs) }

// LastHeartbeatMs returns the last recorded progress timestamp.
func (h *Heartbeat) LastHeartbeatMs() int64 { return h.lastHeartbeatMs.Load() }

// StartTimeMs returns when this heartbeat's owning thread started.
func (h *Heartbeat) StartTimeMs() int64 { return h.startTimeMs }

// Pid returns the owning process's pid.
func (h *Heartbeat) Pid() int32 { return h.pid }

// Stale reports whether the heartbeat has not advanced in at least
// timeout, relative to nowMs — the takeover signal a monitor watches for.
func (h *Heartbeat) Stale(nowMs int64, timeout time.Duration) bool {
	return nowMs-h.LastHeartbeatMs() >= timeout.Milliseconds()
}

// Group supervises a set of named background loops, running them under an
// errgroup.Group so the first one to return an error cancels the shared
// context and is reported by Wait.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
	log *zap.SugaredLogger
}

// New creates a Group bound to ctx: cancelling ctx (or any supervised loop
// returning a non-nil error) stops every other loop.
func New(ctx context.Context, log *zap.SugaredLogger) (*Group, context.Context) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx, log: log}, gctx
}

// Go runs fn under the supervised group, logging its name on start and on
// any non-nil return.
func (grp *Group) Go(name string, fn func(ctx context.Context) error) {
	grp.g.Go(func() error {
		grp.log.Infow("background thread starting", "thread", name)
		err := fn(grp.ctx)
		if err != nil {
			grp.log.Errorw("background thread exited with error", "thread", name, "error", err)
		} else {
			grp.log.Infow("background thread stopped", "thread", name)
		}
		return err
	})
}

// Wait blocks until every supervised loop has returned, yielding the first
// non-nil error (if any).
func (grp *Group) Wait() error {
	return grp.g.Wait()
}
