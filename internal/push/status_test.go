package push

import (
	"context"
	"testing"
	"time"

	"github.com/dhofer/chargesync/internal/model"
)

// =============================================================================
// Status Flush Tests
// =============================================================================

// TestFlushStatus_EmptyQueueIsNoOperation verifies an empty status flush
// makes no network call.
func TestFlushStatus_EmptyQueueIsNoOperation(t *testing.T) {
	adapter, gw, _ := newTestAdapter(t, nil)

	res := adapter.FlushStatus(context.Background())
	if res.Code != CodeNoOperation {
		t.Errorf("expected no_operation, got %s", res.Code)
	}
	if gw.CountCalls() != 0 {
		t.Errorf("expected no gateway calls, got %d", gw.CountCalls())
	}
}

// TestFlushStatus_DedupesPerConnector covers the superseded-update rule:
// two updates for one connector queued in the same cycle result in exactly
// one transmitted update carrying the latest state.
func TestFlushStatus_DedupesPerConnector(t *testing.T) {
	adapter, gw, _ := newTestAdapter(t, nil)
	ctx := context.Background()

	t1 := time.Now()
	updates := []model.StatusUpdate{
		makeStatus("c-1", "st-1", model.StatusAvailable, t1),
		makeStatus("c-1", "st-1", model.StatusOccupied, t1.Add(time.Second)),
	}
	if _, err := adapter.UpdateStatus(ctx, Enqueue, updates); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res := adapter.FlushStatus(ctx); res.Code != CodeSuccess {
		t.Fatalf("expected success, got %s", res.Code)
	}

	calls := gw.CallsByMethod("PushStatuses")
	if len(calls) != 1 {
		t.Fatalf("expected 1 status push, got %d", len(calls))
	}
	if len(calls[0].Statuses) != 1 {
		t.Fatalf("expected 1 deduplicated update, got %d", len(calls[0].Statuses))
	}
	if got := calls[0].Statuses[0].Current; got != model.StatusOccupied {
		t.Errorf("expected occupied to survive dedup, got %s", got)
	}
}

// TestFlushStatus_DelaysUpdatesForPendingStations verifies the splitter:
// an update whose owning station still awaits creation is parked on the
// data queue and dispatched by the data cycle after the creation, not by
// the status cycle.
func TestFlushStatus_DelaysUpdatesForPendingStations(t *testing.T) {
	adapter, gw, _ := newTestAdapter(t, nil)
	ctx := context.Background()

	if _, err := adapter.AddStations(ctx, Enqueue, []model.Station{makeStation("st-new")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updates := []model.StatusUpdate{
		makeStatus("c-new", "st-new", model.StatusAvailable, time.Now()),
		makeStatus("c-old", "st-old", model.StatusOccupied, time.Now()),
	}
	if _, err := adapter.UpdateStatus(ctx, Enqueue, updates); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The status cycle transmits only the update for the known station.
	if res := adapter.FlushStatus(ctx); res.Code != CodeSuccess {
		t.Fatalf("expected success, got %s", res.Code)
	}
	statusCalls := gw.CallsByMethod("PushStatuses")
	if len(statusCalls) != 1 || len(statusCalls[0].Statuses) != 1 {
		t.Fatalf("expected 1 fast update pushed, got %v", statusCalls)
	}
	if statusCalls[0].Statuses[0].ConnectorID != "c-old" {
		t.Errorf("expected c-old pushed fast, got %s", statusCalls[0].Statuses[0].ConnectorID)
	}
	if stats := adapter.Stats(); stats.DelayedStatuses != 1 {
		t.Fatalf("expected 1 delayed status, got %d", stats.DelayedStatuses)
	}

	// The data cycle creates the station, then releases the parked update.
	if res := adapter.Flush(ctx); res.Code != CodeSuccess {
		t.Fatalf("expected data flush success, got %s", res.Code)
	}

	calls := gw.Calls()
	var sawCreation bool
	for _, c := range calls {
		if c.Method == "PushStations" {
			sawCreation = true
		}
		if c.Method == "PushStatuses" && len(c.Statuses) == 1 && c.Statuses[0].ConnectorID == "c-new" {
			if !sawCreation {
				t.Error("delayed status dispatched before station creation")
			}
			return
		}
	}
	t.Error("delayed status for c-new was never dispatched")
}

// TestFlushStatus_Disabled verifies the kill switch on the forced path.
func TestFlushStatus_Disabled(t *testing.T) {
	adapter, _, _ := newTestAdapter(t, func(c *Config) {
		c.DisableStatusPush = true
	})

	if res := adapter.FlushStatus(context.Background()); res.Code != CodeAdminDisabled {
		t.Errorf("expected admin_disabled, got %s", res.Code)
	}
}

// TestUpdateStatus_LockTimeout verifies the bounded lock wait: a held
// status lock makes an enqueue give up with LockTimeout, dropping nothing
// that was already queued.
func TestUpdateStatus_LockTimeout(t *testing.T) {
	adapter, _, logger := newTestAdapter(t, func(c *Config) {
		c.StatusLockWait = 20 * time.Millisecond
	})
	ctx := context.Background()

	if _, err := adapter.UpdateStatus(ctx, Enqueue, []model.StatusUpdate{
		makeStatus("c-1", "st-1", model.StatusAvailable, time.Now()),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Occupy the one-slot status semaphore.
	adapter.statusSem <- struct{}{}
	defer func() { <-adapter.statusSem }()

	res, err := adapter.UpdateStatus(ctx, Enqueue, []model.StatusUpdate{
		makeStatus("c-2", "st-1", model.StatusOccupied, time.Now()),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != CodeLockTimeout {
		t.Errorf("expected lock_timeout, got %s", res.Code)
	}
	if !logger.HasWarning() {
		t.Error("expected lock timeout to be logged")
	}
	if stats := adapter.Stats(); stats.PendingStatuses != 1 {
		t.Errorf("expected earlier queued update untouched, got %d", stats.PendingStatuses)
	}
}

// TestFlushStatus_LockTimeout verifies a forced status flush reports
// LockTimeout when the lock is held past the bounded wait.
func TestFlushStatus_LockTimeout(t *testing.T) {
	adapter, gw, _ := newTestAdapter(t, func(c *Config) {
		c.StatusLockWait = 20 * time.Millisecond
	})

	adapter.statusSem <- struct{}{}
	defer func() { <-adapter.statusSem }()

	res := adapter.FlushStatus(context.Background())
	if res.Code != CodeLockTimeout {
		t.Errorf("expected lock_timeout, got %s", res.Code)
	}
	if gw.CountCalls() != 0 {
		t.Errorf("expected no gateway calls, got %d", gw.CountCalls())
	}
}

// TestStatusTimer_FlushesAfterInterval verifies a status enqueue arms the
// shorter status timer independently of the data timer.
func TestStatusTimer_FlushesAfterInterval(t *testing.T) {
	adapter, gw, _ := newTestAdapter(t, func(c *Config) {
		c.StatusFlushInterval = 20 * time.Millisecond
	})

	if _, err := adapter.UpdateStatus(context.Background(), Enqueue, []model.StatusUpdate{
		makeStatus("c-1", "st-1", model.StatusAvailable, time.Now()),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(gw.CallsByMethod("PushStatuses")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if len(gw.CallsByMethod("PushStatuses")) == 0 {
		t.Fatal("expected timer-driven status flush")
	}
	if stats := adapter.Stats(); stats.PendingStatuses != 0 {
		t.Errorf("expected status queue drained, got %d", stats.PendingStatuses)
	}
}

// TestUpdateStatus_DirectDedupes verifies the direct path applies the same
// per-call deduplication as the scheduler.
func TestUpdateStatus_DirectDedupes(t *testing.T) {
	adapter, gw, _ := newTestAdapter(t, nil)

	t1 := time.Now()
	updates := []model.StatusUpdate{
		makeStatus("c-1", "st-1", model.StatusAvailable, t1),
		makeStatus("c-1", "st-1", model.StatusOutOfService, t1.Add(time.Minute)),
	}
	res, err := adapter.UpdateStatus(context.Background(), Direct, updates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != CodeSuccess || res.Attempted != 1 {
		t.Errorf("expected 1 attempted success, got %s attempted=%d", res.Code, res.Attempted)
	}

	calls := gw.CallsByMethod("PushStatuses")
	if len(calls) != 1 || len(calls[0].Statuses) != 1 {
		t.Fatalf("expected one deduplicated push, got %v", calls)
	}
	if calls[0].Statuses[0].Current != model.StatusOutOfService {
		t.Errorf("expected out_of_service, got %s", calls[0].Statuses[0].Current)
	}
}
