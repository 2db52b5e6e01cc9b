package push

import (
	"testing"
	"time"

	"github.com/dhofer/chargesync/internal/model"
)

func makeStation(id string) model.Station {
	return model.Station{
		ID:         id,
		Name:       "Station " + id,
		OperatorID: "op-1",
		Connectors: []model.Connector{
			{ID: id + "-1", StationID: id, Standard: "IEC_62196_T2", MaxPowerKW: 22},
		},
	}
}

func makeStatus(connectorID, stationID string, status model.ConnectorStatusValue, at time.Time) model.StatusUpdate {
	return model.StatusUpdate{
		ConnectorID: connectorID,
		StationID:   stationID,
		Current:     status,
		ChangedAt:   at,
	}
}

// =============================================================================
// Coalescing Tests
// =============================================================================

// TestQueue_UpdateFoldsIntoPendingAdd verifies that an update for a station
// still awaiting creation replaces the creation payload instead of queuing
// a separate update.
func TestQueue_UpdateFoldsIntoPendingAdd(t *testing.T) {
	q := newChangeQueue()

	q.add(makeStation("st-1"))
	updated := makeStation("st-1")
	updated.Name = "Renamed"
	q.update(updated)

	if len(q.toUpdate) != 0 {
		t.Errorf("expected no pending updates, got %d", len(q.toUpdate))
	}
	if got := q.toAdd["st-1"].Name; got != "Renamed" {
		t.Errorf("expected creation to carry updated name, got %q", got)
	}
}

// TestQueue_UpdateWithoutPendingAdd verifies that an update for an already
// created station lands in the update section.
func TestQueue_UpdateWithoutPendingAdd(t *testing.T) {
	q := newChangeQueue()

	q.update(makeStation("st-1"))

	if len(q.toAdd) != 0 {
		t.Errorf("expected no pending adds, got %d", len(q.toAdd))
	}
	if _, ok := q.toUpdate["st-1"]; !ok {
		t.Error("expected station in update section")
	}
}

// TestQueue_RemoveDropsPendingUpdate verifies that a removal supersedes a
// buffered update but leaves a buffered creation in place.
func TestQueue_RemoveDropsPendingUpdate(t *testing.T) {
	q := newChangeQueue()

	q.update(makeStation("st-1"))
	q.remove(makeStation("st-1"))

	if len(q.toUpdate) != 0 {
		t.Errorf("expected update section cleared, got %d entries", len(q.toUpdate))
	}
	if _, ok := q.toRemove["st-1"]; !ok {
		t.Error("expected station in removal section")
	}
}

// TestQueue_RemoveKeepsPendingAdd verifies that a station both created and
// removed in the same cycle stays in both sections: it is created and then
// removed, in that order.
func TestQueue_RemoveKeepsPendingAdd(t *testing.T) {
	q := newChangeQueue()

	q.add(makeStation("st-1"))
	q.remove(makeStation("st-1"))

	if _, ok := q.toAdd["st-1"]; !ok {
		t.Error("expected pending creation to survive removal")
	}
	if _, ok := q.toRemove["st-1"]; !ok {
		t.Error("expected station in removal section")
	}
}

// TestQueue_AddRevivesRemovedStation verifies that a creation cancels a
// buffered removal for the same station.
func TestQueue_AddRevivesRemovedStation(t *testing.T) {
	q := newChangeQueue()

	q.remove(makeStation("st-1"))
	q.add(makeStation("st-1"))

	if len(q.toRemove) != 0 {
		t.Errorf("expected removal section cleared, got %d entries", len(q.toRemove))
	}
	if _, ok := q.toAdd["st-1"]; !ok {
		t.Error("expected station in add section")
	}
}

// =============================================================================
// Drain Tests
// =============================================================================

// TestQueue_DrainClearsAllSections verifies that drain hands back every
// section and leaves the queue empty.
func TestQueue_DrainClearsAllSections(t *testing.T) {
	q := newChangeQueue()

	q.add(makeStation("st-1"))
	q.update(makeStation("st-2"))
	q.remove(makeStation("st-3"))
	q.parkDelayed([]model.StatusUpdate{makeStatus("c-1", "st-1", model.StatusAvailable, time.Now())})
	q.addRecords([]model.SessionRecord{{SessionID: "sess-1"}})

	batch := q.drain()

	if len(batch.adds) != 1 || len(batch.updates) != 1 || len(batch.removals) != 1 {
		t.Errorf("unexpected batch sizes: adds=%d updates=%d removals=%d",
			len(batch.adds), len(batch.updates), len(batch.removals))
	}
	if len(batch.delayed) != 1 || len(batch.records) != 1 {
		t.Errorf("unexpected batch sizes: delayed=%d records=%d",
			len(batch.delayed), len(batch.records))
	}
	if !q.empty() {
		t.Error("expected queue empty after drain")
	}
}

// TestQueue_DrainSortsStationsByID verifies deterministic batch ordering.
func TestQueue_DrainSortsStationsByID(t *testing.T) {
	q := newChangeQueue()

	q.add(makeStation("st-3"))
	q.add(makeStation("st-1"))
	q.add(makeStation("st-2"))

	batch := q.drain()

	want := []string{"st-1", "st-2", "st-3"}
	for i, s := range batch.adds {
		if s.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], s.ID)
		}
	}
}

// TestQueue_EmptyAfterCreation verifies a fresh queue reports empty.
func TestQueue_EmptyAfterCreation(t *testing.T) {
	q := newChangeQueue()
	if !q.empty() {
		t.Error("expected fresh queue to be empty")
	}
}

// =============================================================================
// Status Deduplication Tests
// =============================================================================

// TestLatestPerConnector_KeepsChronologicallyLatest verifies that of two
// queued updates for the same connector only the one with the later change
// timestamp survives, regardless of enqueue order.
func TestLatestPerConnector_KeepsChronologicallyLatest(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	updates := []model.StatusUpdate{
		makeStatus("c-1", "st-1", model.StatusAvailable, t1),
		makeStatus("c-1", "st-1", model.StatusOccupied, t2),
	}

	deduped := latestPerConnector(updates)
	if len(deduped) != 1 {
		t.Fatalf("expected 1 update, got %d", len(deduped))
	}
	if deduped[0].Current != model.StatusOccupied {
		t.Errorf("expected occupied, got %s", deduped[0].Current)
	}
}

// TestLatestPerConnector_OutOfOrderArrival verifies that an older update
// arriving after a newer one does not win.
func TestLatestPerConnector_OutOfOrderArrival(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	updates := []model.StatusUpdate{
		makeStatus("c-1", "st-1", model.StatusOccupied, t2),
		makeStatus("c-1", "st-1", model.StatusAvailable, t1),
	}

	deduped := latestPerConnector(updates)
	if len(deduped) != 1 {
		t.Fatalf("expected 1 update, got %d", len(deduped))
	}
	if deduped[0].Current != model.StatusOccupied {
		t.Errorf("expected occupied to survive, got %s", deduped[0].Current)
	}
}

// TestLatestPerConnector_IndependentConnectors verifies that updates for
// different connectors are never merged.
func TestLatestPerConnector_IndependentConnectors(t *testing.T) {
	now := time.Now()

	updates := []model.StatusUpdate{
		makeStatus("c-1", "st-1", model.StatusAvailable, now),
		makeStatus("c-2", "st-1", model.StatusOccupied, now),
		makeStatus("c-3", "st-2", model.StatusReserved, now),
	}

	deduped := latestPerConnector(updates)
	if len(deduped) != 3 {
		t.Errorf("expected 3 updates, got %d", len(deduped))
	}
}
