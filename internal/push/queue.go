package push

import (
	"sort"

	"github.com/dhofer/chargesync/internal/model"
)

// changeQueue buffers pending entity changes between data flush cycles.
// It is owned exclusively by the adapter; every access happens under the
// adapter's data mutex. Station sections are keyed by station ID, so the
// order changes were enqueued in is irrelevant within a section.
type changeQueue struct {
	toAdd    map[string]model.Station
	toUpdate map[string]model.Station
	toRemove map[string]model.Station

	// Status updates parked here by the status splitter because their
	// owning station was still awaiting creation. Dispatched by the data
	// flush cycle after the creation batch.
	delayedStatuses []model.StatusUpdate

	// Completed sessions awaiting upload, in arrival order. Never
	// deduplicated.
	records []model.SessionRecord
}

func newChangeQueue() changeQueue {
	return changeQueue{
		toAdd:    make(map[string]model.Station),
		toUpdate: make(map[string]model.Station),
		toRemove: make(map[string]model.Station),
	}
}

// empty reports whether all five queue sections are empty.
func (q *changeQueue) empty() bool {
	return len(q.toAdd) == 0 &&
		len(q.toUpdate) == 0 &&
		len(q.toRemove) == 0 &&
		len(q.delayedStatuses) == 0 &&
		len(q.records) == 0
}

// add enqueues a station creation. A creation carries the latest known
// station data, so it also supersedes any buffered update for the same
// station and revives a station previously queued for removal.
func (q *changeQueue) add(s model.Station) {
	q.toAdd[s.ID] = s
	delete(q.toUpdate, s.ID)
	delete(q.toRemove, s.ID)
}

// update enqueues a station update. If the station is still awaiting its
// first creation, the creation entry absorbs the newer data instead; a
// separate update would be rejected upstream before the creation is
// acknowledged.
func (q *changeQueue) update(s model.Station) {
	if _, pending := q.toAdd[s.ID]; pending {
		q.toAdd[s.ID] = s
		return
	}
	q.toUpdate[s.ID] = s
}

// remove enqueues a station removal. A pending creation for the same
// station is left in place: the entity is created and then removed in
// the same cycle, in that order.
func (q *changeQueue) remove(s model.Station) {
	q.toRemove[s.ID] = s
	delete(q.toUpdate, s.ID)
}

// parkDelayed appends status updates that must wait for their owning
// station's creation.
func (q *changeQueue) parkDelayed(updates []model.StatusUpdate) {
	q.delayedStatuses = append(q.delayedStatuses, updates...)
}

// addRecords appends session records in arrival order.
func (q *changeQueue) addRecords(records []model.SessionRecord) {
	q.records = append(q.records, records...)
}

// pendingAddIDs returns the set of station IDs currently awaiting their
// first creation. Read by the status splitter to partition fast vs
// delayed updates.
func (q *changeQueue) pendingAddIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(q.toAdd))
	for id := range q.toAdd {
		ids[id] = struct{}{}
	}
	return ids
}

// drainedBatch is the snapshot a drain hands to the dispatcher. The
// drain function transfers exclusive ownership of the snapshot to its
// caller; the queue itself is cleared before the lock is released.
type drainedBatch struct {
	adds     []model.Station
	updates  []model.Station
	removals []model.Station
	delayed  []model.StatusUpdate
	records  []model.SessionRecord
}

// drain copies all five sections and clears the originals. The caller
// must hold the adapter's data mutex. Station sections are returned
// sorted by ID so dispatch batches are deterministic.
func (q *changeQueue) drain() drainedBatch {
	batch := drainedBatch{
		adds:     sortedStations(q.toAdd),
		updates:  sortedStations(q.toUpdate),
		removals: sortedStations(q.toRemove),
		delayed:  q.delayedStatuses,
		records:  q.records,
	}

	q.toAdd = make(map[string]model.Station)
	q.toUpdate = make(map[string]model.Station)
	q.toRemove = make(map[string]model.Station)
	q.delayedStatuses = nil
	q.records = nil

	return batch
}

func sortedStations(set map[string]model.Station) []model.Station {
	if len(set) == 0 {
		return nil
	}

	stations := make([]model.Station, 0, len(set))
	for _, s := range set {
		stations = append(stations, s)
	}
	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	return stations
}

// latestPerConnector applies the per-cycle deduplication rule: for
// connectors with multiple queued updates, only the chronologically
// latest by change timestamp survives. Relative order of the surviving
// updates follows their first appearance in the input.
func latestPerConnector(updates []model.StatusUpdate) []model.StatusUpdate {
	if len(updates) <= 1 {
		return updates
	}

	latest := make(map[string]model.StatusUpdate, len(updates))
	order := make([]string, 0, len(updates))
	for _, u := range updates {
		existing, seen := latest[u.ConnectorID]
		if !seen {
			order = append(order, u.ConnectorID)
			latest[u.ConnectorID] = u
			continue
		}
		if u.ChangedAt.After(existing.ChangedAt) {
			latest[u.ConnectorID] = u
		}
	}

	deduped := make([]model.StatusUpdate, 0, len(order))
	for _, id := range order {
		deduped = append(deduped, latest[id])
	}
	return deduped
}

func stationIDs(stations []model.Station) []string {
	ids := make([]string, len(stations))
	for i, s := range stations {
		ids[i] = s.ID
	}
	return ids
}

func statusIDs(updates []model.StatusUpdate) []string {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ConnectorID
	}
	return ids
}

func recordIDs(records []model.SessionRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.SessionID
	}
	return ids
}
