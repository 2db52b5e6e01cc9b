package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dhofer/chargesync/internal/gateway"
	"github.com/dhofer/chargesync/internal/model"
)

// TransmissionMode selects between an immediate network round trip and a
// buffered enqueue picked up by the next flush cycle.
type TransmissionMode int

const (
	// Direct dispatches to the gateway before returning. The caller
	// observes delivery failure in the returned result.
	Direct TransmissionMode = iota

	// Enqueue appends to the change queue and returns immediately. The
	// eventual network outcome is observable only through the event
	// channel.
	Enqueue
)

// String returns a human-readable representation of the transmission mode
func (m TransmissionMode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Enqueue:
		return "enqueue"
	default:
		return "unknown"
	}
}

// Adapter synchronizes the locally mutating station inventory with the
// remote service. Local mutations are either dispatched directly or
// buffered in a change queue drained by two periodic schedulers: a data
// scheduler for entity changes and session records, and a shorter-interval
// status scheduler for connector status updates.
//
// The queue is held in memory only. Anything still queued when the
// process exits is lost; delivery is at most once.
type Adapter struct {
	config   Config
	gw       gateway.Client
	logger   *slog.Logger
	filter   func(model.Station) bool
	notifier *notifier

	// Data queue. mu guards queue; the data scheduler acquires it
	// without blocking and reschedules on contention.
	mu    sync.Mutex
	queue changeQueue

	// Status queue. statusSem is a one-slot semaphore acquired with a
	// bounded wait; it guards statuses.
	statusSem chan struct{}
	statuses  []model.StatusUpdate

	// Counters readable without either queue lock.
	dataRuns        atomic.Uint64
	statusRuns      atomic.Uint64
	lastDataFlush   atomic.Int64 // unix nanos, 0 = never
	lastStatusFlush atomic.Int64
	statusDepth     atomic.Int64

	// Timer state. timerMu is always acquired last, never around either
	// queue lock.
	timerMu     sync.Mutex
	dataTimer   *time.Timer
	statusTimer *time.Timer
	dataArmed   bool
	statusArmed bool
	closed      bool
}

// Stats is a point-in-time snapshot of adapter state.
type Stats struct {
	PendingAdds     int
	PendingUpdates  int
	PendingRemovals int
	DelayedStatuses int
	PendingRecords  int
	PendingStatuses int
	DataRuns        uint64
	StatusRuns      uint64
	LastDataFlush   time.Time
	LastStatusFlush time.Time
	EventsDropped   uint64
}

// NewAdapter creates a push adapter with validated configuration. The
// filter, when non-nil, is evaluated per station before admission to a
// queue or a direct batch; stations failing it are silently dropped. A
// nil filter admits every station.
func NewAdapter(config Config, gw gateway.Client, filter func(model.Station) bool, logger *slog.Logger) (*Adapter, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client must not be nil")
	}

	return &Adapter{
		config:    config,
		gw:        gw,
		logger:    logger,
		filter:    filter,
		notifier:  newNotifier(config.EventBufferSize, logger),
		queue:     newChangeQueue(),
		statusSem: make(chan struct{}, 1),
	}, nil
}

// Subscribe registers a listener for request, response and exception
// events. The returned channel is closed when the adapter closes.
func (a *Adapter) Subscribe() <-chan Event {
	return a.notifier.subscribe()
}

// SetStations replaces the full remote inventory with the given
// stations. In Enqueue mode the stations are queued as creations; the
// first data flush of the process dispatches them as a bulk full load.
func (a *Adapter) SetStations(ctx context.Context, mode TransmissionMode, stations []model.Station) (*Result, error) {
	if err := validateStations(stations); err != nil {
		return nil, err
	}

	if mode == Direct {
		return a.pushStationBatch(ctx, gateway.ActionFullLoad, stations), nil
	}
	return a.enqueueStations(stations, (*changeQueue).add), nil
}

// AddStations uploads or queues new stations.
func (a *Adapter) AddStations(ctx context.Context, mode TransmissionMode, stations []model.Station) (*Result, error) {
	if err := validateStations(stations); err != nil {
		return nil, err
	}

	if mode == Direct {
		return a.pushStationBatch(ctx, gateway.ActionInsert, stations), nil
	}
	return a.enqueueStations(stations, (*changeQueue).add), nil
}

// UpdateStations uploads or queues changes to existing stations. A
// queued update for a station still awaiting its first creation is
// folded into the pending creation instead of being dispatched
// separately.
func (a *Adapter) UpdateStations(ctx context.Context, mode TransmissionMode, stations []model.Station) (*Result, error) {
	if err := validateStations(stations); err != nil {
		return nil, err
	}

	if mode == Direct {
		return a.pushStationBatch(ctx, gateway.ActionUpdate, stations), nil
	}
	return a.enqueueStations(stations, (*changeQueue).update), nil
}

// DeleteStations uploads or queues station removals. A removal does not
// cancel a pending creation for the same station: the station is created
// and then removed within the same flush cycle, in that order.
func (a *Adapter) DeleteStations(ctx context.Context, mode TransmissionMode, stations []model.Station) (*Result, error) {
	if err := validateStations(stations); err != nil {
		return nil, err
	}

	if mode == Direct {
		return a.pushStationBatch(ctx, gateway.ActionDelete, stations), nil
	}
	return a.enqueueStations(stations, (*changeQueue).remove), nil
}

// UpdateStatus uploads or queues connector status updates. Superseded
// updates for the same connector are deduplicated per flush cycle,
// keeping only the chronologically latest.
func (a *Adapter) UpdateStatus(ctx context.Context, mode TransmissionMode, updates []model.StatusUpdate) (*Result, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("status updates must not be empty")
	}
	for _, u := range updates {
		if err := u.Validate(); err != nil {
			return nil, err
		}
	}

	if mode == Direct {
		return a.pushStatusBatch(ctx, latestPerConnector(updates)), nil
	}

	res := beginResult()
	if a.config.DisableStatusPush {
		return res.finish(CodeAdminDisabled), nil
	}

	if !a.acquireStatusLock() {
		a.logger.Warn("status enqueue lock wait timed out",
			"wait", a.config.StatusLockWait,
			"update_count", len(updates))
		return res.finish(CodeLockTimeout), nil
	}
	a.statuses = append(a.statuses, updates...)
	a.statusDepth.Store(int64(len(a.statuses)))
	a.releaseStatusLock()

	a.armStatusTimer()

	res.Attempted = len(updates)
	return res.finish(CodeEnqueued), nil
}

// SendRecords uploads or queues completed session records. Records are
// never deduplicated and, when queued, are dispatched last within a data
// flush cycle. Delivery is at most once: a record lost to a failed
// dispatch is not retried.
func (a *Adapter) SendRecords(ctx context.Context, mode TransmissionMode, records []model.SessionRecord) (*Result, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("session records must not be empty")
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	if mode == Direct {
		return a.pushRecordBatch(ctx, records), nil
	}

	res := beginResult()
	if a.config.DisableRecordUpload {
		return res.finish(CodeAdminDisabled), nil
	}

	a.mu.Lock()
	a.queue.addRecords(records)
	a.mu.Unlock()

	a.armDataTimer()

	res.Attempted = len(records)
	return res.finish(CodeEnqueued), nil
}

// AuthorizeStart forwards a remote-start authorization request. This is
// a plain passthrough; nothing is queued.
func (a *Adapter) AuthorizeStart(ctx context.Context, req gateway.AuthorizeRequest) (gateway.AuthorizeResult, *Result, error) {
	return a.authorize(ctx, req, a.gw.AuthorizeStart)
}

// AuthorizeStop forwards a remote-stop authorization request.
func (a *Adapter) AuthorizeStop(ctx context.Context, req gateway.AuthorizeRequest) (gateway.AuthorizeResult, *Result, error) {
	return a.authorize(ctx, req, a.gw.AuthorizeStop)
}

func (a *Adapter) authorize(ctx context.Context, req gateway.AuthorizeRequest, call func(context.Context, gateway.AuthorizeRequest) (gateway.AuthorizeResult, error)) (gateway.AuthorizeResult, *Result, error) {
	if req.ConnectorID == "" {
		return gateway.AuthorizeResult{}, nil, fmt.Errorf("authorize: connector id must not be empty")
	}

	res := beginResult()
	if a.config.DisableAuth {
		return gateway.AuthorizeResult{}, res.finish(CodeAdminDisabled), nil
	}

	a.notifier.publish(Event{
		Type:      EventRequest,
		Time:      time.Now(),
		CallID:    res.ID,
		Operation: OpAuthorize,
		Count:     1,
	})

	outcome, err := call(ctx, req)
	if err != nil {
		res.Err = err
		res.Attempted = 1
		res.FailedItems = []ItemResult{{ItemID: req.ConnectorID, Reason: err.Error()}}
		res.finish(CodeError)
	} else {
		res.Attempted = 1
		if !outcome.Authorized {
			res.FailedItems = []ItemResult{{
				ItemID:          req.ConnectorID,
				TransportStatus: outcome.TransportStatus,
				Reason:          outcome.ServerMessage,
			}}
			res.finish(CodeError)
		} else {
			res.finish(CodeSuccess)
		}
	}

	a.notifier.publish(Event{
		Type:      EventResponse,
		Time:      time.Now(),
		CallID:    res.ID,
		Operation: OpAuthorize,
		Result:    res,
	})

	return outcome, res, nil
}

// Stats returns a snapshot of queue depths and scheduler counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	stats := Stats{
		PendingAdds:     len(a.queue.toAdd),
		PendingUpdates:  len(a.queue.toUpdate),
		PendingRemovals: len(a.queue.toRemove),
		DelayedStatuses: len(a.queue.delayedStatuses),
		PendingRecords:  len(a.queue.records),
	}
	a.mu.Unlock()

	stats.PendingStatuses = int(a.statusDepth.Load())
	stats.DataRuns = a.dataRuns.Load()
	stats.StatusRuns = a.statusRuns.Load()
	if n := a.lastDataFlush.Load(); n != 0 {
		stats.LastDataFlush = time.Unix(0, n)
	}
	if n := a.lastStatusFlush.Load(); n != 0 {
		stats.LastStatusFlush = time.Unix(0, n)
	}
	stats.EventsDropped = a.notifier.droppedCount()

	return stats
}

// Close stops both flush timers and closes all event channels. Queued
// but undelivered changes are dropped; the counts are logged so the loss
// is visible.
func (a *Adapter) Close() {
	a.timerMu.Lock()
	if a.closed {
		a.timerMu.Unlock()
		return
	}
	a.closed = true
	if a.dataTimer != nil {
		a.dataTimer.Stop()
	}
	if a.statusTimer != nil {
		a.statusTimer.Stop()
	}
	a.timerMu.Unlock()

	stats := a.Stats()
	dropped := stats.PendingAdds + stats.PendingUpdates + stats.PendingRemovals +
		stats.DelayedStatuses + stats.PendingRecords + stats.PendingStatuses
	if dropped > 0 {
		a.logger.Warn("push adapter closed with undelivered changes",
			"dropped_count", dropped)
	} else {
		a.logger.Info("push adapter closed")
	}

	a.notifier.close()
}

// ---------------------------------------------------------------------
// Shared aggregation. Direct calls and scheduler-drained batches both
// funnel through the pushXxxBatch functions; there is exactly one
// aggregation implementation per dispatch path.
// ---------------------------------------------------------------------

func (a *Adapter) pushStationBatch(ctx context.Context, action gateway.ActionType, stations []model.Station) *Result {
	res := beginResult()
	if a.config.DisableDataPush {
		return res.finish(CodeAdminDisabled)
	}

	eligible := a.filterStations(stations)
	if len(eligible) == 0 {
		return res.finish(CodeNoOperation)
	}

	a.notifier.publish(Event{
		Type:      EventRequest,
		Time:      time.Now(),
		CallID:    res.ID,
		Operation: OpStations,
		Count:     len(eligible),
	})

	outcomes, err := a.gw.PushStations(ctx, action, eligible)
	a.settleBatch(res, stationIDs(eligible), outcomes, err)

	a.notifier.publish(Event{
		Type:      EventResponse,
		Time:      time.Now(),
		CallID:    res.ID,
		Operation: OpStations,
		Result:    res,
	})

	return res
}

func (a *Adapter) pushStatusBatch(ctx context.Context, updates []model.StatusUpdate) *Result {
	res := beginResult()
	if a.config.DisableStatusPush {
		return res.finish(CodeAdminDisabled)
	}
	if len(updates) == 0 {
		return res.finish(CodeNoOperation)
	}

	a.notifier.publish(Event{
		Type:      EventRequest,
		Time:      time.Now(),
		CallID:    res.ID,
		Operation: OpStatuses,
		Count:     len(updates),
	})

	outcomes, err := a.gw.PushStatuses(ctx, updates)
	a.settleBatch(res, statusIDs(updates), outcomes, err)

	a.notifier.publish(Event{
		Type:      EventResponse,
		Time:      time.Now(),
		CallID:    res.ID,
		Operation: OpStatuses,
		Result:    res,
	})

	return res
}

func (a *Adapter) pushRecordBatch(ctx context.Context, records []model.SessionRecord) *Result {
	res := beginResult()
	if a.config.DisableRecordUpload {
		return res.finish(CodeAdminDisabled)
	}
	if len(records) == 0 {
		return res.finish(CodeNoOperation)
	}

	a.notifier.publish(Event{
		Type:      EventRequest,
		Time:      time.Now(),
		CallID:    res.ID,
		Operation: OpRecords,
		Count:     len(records),
	})

	outcomes, err := a.gw.PushRecords(ctx, records)
	a.settleBatch(res, recordIDs(records), outcomes, err)

	a.notifier.publish(Event{
		Type:      EventResponse,
		Time:      time.Now(),
		CallID:    res.ID,
		Operation: OpRecords,
		Result:    res,
	})

	return res
}

// settleBatch folds the gateway response into the result. A transport
// error marks every item failed and keeps the cause on the result for
// exception routing.
func (a *Adapter) settleBatch(res *Result, ids []string, outcomes []gateway.ItemOutcome, err error) {
	if err != nil {
		res.Err = err
		res.Attempted = len(ids)
		for _, id := range ids {
			res.FailedItems = append(res.FailedItems, ItemResult{
				ItemID: id,
				Reason: err.Error(),
			})
		}
		res.finish(CodeError)
		return
	}

	res.classifyOutcomes(ids, outcomes)
}

func (a *Adapter) enqueueStations(stations []model.Station, apply func(*changeQueue, model.Station)) *Result {
	res := beginResult()
	if a.config.DisableDataPush {
		return res.finish(CodeAdminDisabled)
	}

	eligible := a.filterStations(stations)
	if len(eligible) == 0 {
		return res.finish(CodeNoOperation)
	}

	a.mu.Lock()
	for _, s := range eligible {
		apply(&a.queue, s)
	}
	a.mu.Unlock()

	a.armDataTimer()

	res.Attempted = len(eligible)
	return res.finish(CodeEnqueued)
}

func (a *Adapter) filterStations(stations []model.Station) []model.Station {
	if a.filter == nil {
		return stations
	}

	eligible := make([]model.Station, 0, len(stations))
	for _, s := range stations {
		if a.filter(s) {
			eligible = append(eligible, s)
		}
	}
	return eligible
}

func validateStations(stations []model.Station) error {
	if len(stations) == 0 {
		return fmt.Errorf("stations must not be empty")
	}
	for _, s := range stations {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
