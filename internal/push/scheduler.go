package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dhofer/chargesync/internal/gateway"
	"github.com/dhofer/chargesync/internal/model"
)

// Data flush scheduler. The timer is armed by an enqueue and stays
// stopped while the queue is empty; repeated enqueues before it fires do
// not create duplicate scheduled runs. The timer callback acquires the
// data mutex without blocking, so a flush can never overlap a concurrent
// run of itself: a contended tick logs and reschedules one interval out.

// Flush forces an immediate data drain-and-dispatch cycle, bypassing the
// timer. Unlike the timer path it waits for the data mutex. An empty
// queue yields NoOperation without a network call.
func (a *Adapter) Flush(ctx context.Context) *Result {
	return a.flushData(ctx, true)
}

func (a *Adapter) dataFlushTick() {
	a.flushData(context.Background(), false)
}

func (a *Adapter) flushData(ctx context.Context, wait bool) *Result {
	res := beginResult()
	if a.config.DisableDataPush {
		return res.finish(CodeAdminDisabled)
	}

	if wait {
		a.mu.Lock()
	} else if !a.mu.TryLock() {
		// A drain or an enqueue holds the lock. Try again one interval
		// from now instead of spinning.
		a.logger.Debug("data queue contended, rescheduling flush",
			"interval", a.config.DataFlushInterval)
		a.rearmDataTimer()
		return res.finish(CodeLockTimeout)
	}

	if a.queue.empty() {
		a.disarmDataTimer()
		a.mu.Unlock()
		return res.finish(CodeNoOperation)
	}

	run := a.dataRuns.Add(1)
	batch := a.queue.drain()
	a.disarmDataTimer()
	a.mu.Unlock()

	a.lastDataFlush.Store(time.Now().UnixNano())

	return a.dispatchBatch(ctx, res, run, batch)
}

// dispatchBatch pushes a drained snapshot to the gateway, outside any
// lock, in fixed order: creations, updates, delayed statuses, removals,
// records. Creations must be visible upstream before a status or removal
// for the same station means anything; records go last because they are
// the least time-sensitive. Each step is awaited before the next begins.
// A step failing at the transport level is routed to the exception
// channel and aborts the remaining steps of this cycle only; the
// scheduler itself survives.
func (a *Adapter) dispatchBatch(ctx context.Context, res *Result, run uint64, batch drainedBatch) *Result {
	defer func() {
		if p := recover(); p != nil {
			a.reportException(fmt.Errorf("dispatch panic: %v", p))
		}
	}()

	a.logger.Info("data flush cycle",
		"run", run,
		"adds", len(batch.adds),
		"updates", len(batch.updates),
		"removals", len(batch.removals),
		"delayed_statuses", len(batch.delayed),
		"records", len(batch.records))

	// Step 1: new stations. The first run of a process is a bulk full
	// load; later runs are incremental inserts.
	if len(batch.adds) > 0 {
		action := gateway.ActionInsert
		if run == 1 {
			action = gateway.ActionFullLoad
		}
		if aborted := a.foldStep(res, "creations", a.pushStationBatch(ctx, action, batch.adds)); aborted {
			return a.finishCycle(res)
		}
	}

	// Step 2: updated stations, excluding anything created this same
	// cycle. The creation already carried the latest data.
	updates := excludeStations(batch.updates, batch.adds)
	if len(updates) > 0 {
		if aborted := a.foldStep(res, "updates", a.pushStationBatch(ctx, gateway.ActionUpdate, updates)); aborted {
			return a.finishCycle(res)
		}
	}

	// Step 3: status updates parked by earlier status cycles while their
	// owning station awaited creation.
	if len(batch.delayed) > 0 {
		delayed := latestPerConnector(batch.delayed)
		if aborted := a.foldStep(res, "delayed statuses", a.pushStatusBatch(ctx, delayed)); aborted {
			return a.finishCycle(res)
		}
	}

	// Step 4: removals.
	if len(batch.removals) > 0 {
		if aborted := a.foldStep(res, "removals", a.pushStationBatch(ctx, gateway.ActionDelete, batch.removals)); aborted {
			return a.finishCycle(res)
		}
	}

	// Step 5: session records, via the same direct upload path as a
	// Direct-mode SendRecords call. At most once: no per-record retry.
	if len(batch.records) > 0 {
		if aborted := a.foldStep(res, "records", a.pushRecordBatch(ctx, batch.records)); aborted {
			return a.finishCycle(res)
		}
	}

	return a.finishCycle(res)
}

// foldStep merges one sub-batch result into the cycle result. Returns
// true when the remaining steps of the cycle must be skipped.
func (a *Adapter) foldStep(res *Result, step string, stepRes *Result) bool {
	res.Attempted += stepRes.Attempted
	res.FailedItems = append(res.FailedItems, stepRes.FailedItems...)

	switch stepRes.Code {
	case CodeError:
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%s: %d of %d items failed", step, len(stepRes.FailedItems), stepRes.Attempted))
	case CodeAdminDisabled:
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: disabled", step))
	}

	if stepRes.Err != nil {
		a.reportException(stepRes.Err)
		res.Err = stepRes.Err
		return true
	}
	return false
}

func (a *Adapter) finishCycle(res *Result) *Result {
	switch {
	case res.Err != nil || len(res.FailedItems) > 0:
		res.finish(CodeError)
	case res.Attempted == 0:
		res.finish(CodeNoOperation)
	default:
		res.finish(CodeSuccess)
	}

	a.logger.Debug("data flush cycle complete",
		"code", res.Code.String(),
		"attempted", res.Attempted,
		"failed", len(res.FailedItems),
		"runtime", res.Runtime)

	return res
}

// reportException unwraps the error to its innermost cause and publishes
// it on the event channel. The scheduler keeps its normal cadence.
func (a *Adapter) reportException(err error) {
	cause := rootCause(err)
	a.logger.Error("dispatch failed", "error", cause)
	a.notifier.publish(Event{
		Type: EventException,
		Time: time.Now(),
		Err:  cause,
	})
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func excludeStations(stations, excluded []model.Station) []model.Station {
	if len(stations) == 0 || len(excluded) == 0 {
		return stations
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, s := range excluded {
		skip[s.ID] = struct{}{}
	}

	kept := make([]model.Station, 0, len(stations))
	for _, s := range stations {
		if _, ok := skip[s.ID]; ok {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// Timer management. timerMu is ordered after the queue locks: it is
// taken while holding them, never the other way around.

func (a *Adapter) armDataTimer() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	if a.closed || a.dataArmed {
		return
	}
	a.dataArmed = true
	if a.dataTimer == nil {
		a.dataTimer = time.AfterFunc(a.config.DataFlushInterval, a.dataFlushTick)
	} else {
		a.dataTimer.Reset(a.config.DataFlushInterval)
	}
}

func (a *Adapter) rearmDataTimer() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	if a.closed {
		return
	}
	a.dataArmed = true
	if a.dataTimer == nil {
		a.dataTimer = time.AfterFunc(a.config.DataFlushInterval, a.dataFlushTick)
	} else {
		a.dataTimer.Reset(a.config.DataFlushInterval)
	}
}

func (a *Adapter) disarmDataTimer() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	a.dataArmed = false
	if a.dataTimer != nil {
		a.dataTimer.Stop()
	}
}
