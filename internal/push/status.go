package push

import (
	"context"
	"time"

	"github.com/dhofer/chargesync/internal/model"
)

// Status flush scheduler. Runs on its own, typically shorter, interval.
// Status updates are latency-sensitive, so the lock is acquired with a
// bounded wait rather than the data scheduler's immediate give-up. The
// drained snapshot is partitioned into updates that can be pushed now
// and updates whose owning station is still awaiting creation; the
// latter are parked on the data queue and ride the next data cycle,
// after the creation batch.

// FlushStatus forces an immediate status drain-and-dispatch cycle. It
// reports LockTimeout when the bounded lock wait expires; nothing is
// dispatched or lost in that case.
func (a *Adapter) FlushStatus(ctx context.Context) *Result {
	return a.flushStatuses(ctx, false)
}

func (a *Adapter) statusFlushTick() {
	a.flushStatuses(context.Background(), true)
}

func (a *Adapter) flushStatuses(ctx context.Context, fromTimer bool) *Result {
	res := beginResult()
	if a.config.DisableStatusPush {
		return res.finish(CodeAdminDisabled)
	}

	if !a.acquireStatusLock() {
		a.logger.Warn("status lock wait timed out, rescheduling",
			"wait", a.config.StatusLockWait)
		if fromTimer {
			a.rearmStatusTimer()
		}
		return res.finish(CodeLockTimeout)
	}

	snapshot := a.statuses
	a.statuses = nil
	a.statusDepth.Store(0)

	if len(snapshot) == 0 {
		a.disarmStatusTimer()
		a.releaseStatusLock()
		return res.finish(CodeNoOperation)
	}

	a.statusRuns.Add(1)
	a.disarmStatusTimer()
	a.releaseStatusLock()

	// Partition against the pending-add set. That set belongs to the
	// data queue, so the data mutex is taken for the copy and for
	// parking the delayed entries; never across the network dispatch.
	a.mu.Lock()
	pending := a.queue.pendingAddIDs()
	var fast, delayed []model.StatusUpdate
	for _, u := range snapshot {
		if _, awaiting := pending[u.StationID]; awaiting {
			delayed = append(delayed, u)
		} else {
			fast = append(fast, u)
		}
	}
	a.queue.parkDelayed(delayed)
	a.mu.Unlock()

	if len(delayed) > 0 {
		a.logger.Debug("status updates deferred until station creation",
			"delayed_count", len(delayed))
		a.armDataTimer()
	}

	a.lastStatusFlush.Store(time.Now().UnixNano())

	fast = latestPerConnector(fast)
	if len(fast) == 0 {
		return res.finish(CodeNoOperation)
	}

	return a.pushStatusBatch(ctx, fast)
}

// acquireStatusLock takes the one-slot status semaphore, giving up after
// the configured bounded wait.
func (a *Adapter) acquireStatusLock() bool {
	select {
	case a.statusSem <- struct{}{}:
		return true
	case <-time.After(a.config.StatusLockWait):
		return false
	}
}

func (a *Adapter) releaseStatusLock() {
	<-a.statusSem
}

func (a *Adapter) armStatusTimer() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	if a.closed || a.statusArmed {
		return
	}
	a.statusArmed = true
	if a.statusTimer == nil {
		a.statusTimer = time.AfterFunc(a.config.StatusFlushInterval, a.statusFlushTick)
	} else {
		a.statusTimer.Reset(a.config.StatusFlushInterval)
	}
}

func (a *Adapter) rearmStatusTimer() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	if a.closed {
		return
	}
	a.statusArmed = true
	if a.statusTimer == nil {
		a.statusTimer = time.AfterFunc(a.config.StatusFlushInterval, a.statusFlushTick)
	} else {
		a.statusTimer.Reset(a.config.StatusFlushInterval)
	}
}

func (a *Adapter) disarmStatusTimer() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	a.statusArmed = false
	if a.statusTimer != nil {
		a.statusTimer.Stop()
	}
}
