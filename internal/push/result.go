package push

import (
	"time"

	"github.com/google/uuid"

	"github.com/dhofer/chargesync/internal/gateway"
)

// Code classifies the outcome of a push call or flush cycle.
type Code int

const (
	// CodeAdminDisabled means the operation's kill switch is set; no
	// network call was made.
	CodeAdminDisabled Code = iota

	// CodeNoOperation means there was nothing eligible to push.
	CodeNoOperation

	// CodeEnqueued means the items were buffered for a later flush cycle.
	CodeEnqueued

	// CodeLockTimeout means the queue lock could not be acquired within
	// the bounded wait; nothing was dispatched or lost.
	CodeLockTimeout

	// CodeSuccess means every dispatched item succeeded.
	CodeSuccess

	// CodeError means at least one dispatched item failed. The failing
	// subset is attached; callers distinguish all-vs-some failures via
	// Attempted.
	CodeError
)

// String returns a human-readable representation of the result code
func (c Code) String() string {
	switch c {
	case CodeAdminDisabled:
		return "admin_disabled"
	case CodeNoOperation:
		return "no_operation"
	case CodeEnqueued:
		return "enqueued"
	case CodeLockTimeout:
		return "lock_timeout"
	case CodeSuccess:
		return "success"
	case CodeError:
		return "error"
	default:
		return "unknown"
	}
}

// ItemResult describes one failed item within a batch.
type ItemResult struct {
	ItemID          string
	TransportStatus int
	Reason          string
}

// Result is the structured outcome of one public push call or one flush
// cycle. It is constructed once per call and immutable afterwards.
type Result struct {
	ID          string // UUID correlating request and response events
	Code        Code
	StartedAt   time.Time
	EndedAt     time.Time
	Runtime     time.Duration
	Attempted   int
	FailedItems []ItemResult
	Warnings    []string

	// Err carries the transport-level cause when the dispatch call
	// itself failed, as opposed to per-item rejections. Nil otherwise.
	Err error
}

// AllFailed reports whether every attempted item failed.
func (r *Result) AllFailed() bool {
	return r.Attempted > 0 && len(r.FailedItems) == r.Attempted
}

// PartialFailure reports whether some but not all attempted items failed.
func (r *Result) PartialFailure() bool {
	return len(r.FailedItems) > 0 && len(r.FailedItems) < r.Attempted
}

// beginResult starts a result record for a new public call or cycle.
func beginResult() *Result {
	return &Result{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// finish seals the result with the given code and returns it.
func (r *Result) finish(code Code) *Result {
	r.Code = code
	r.EndedAt = time.Now()
	r.Runtime = r.EndedAt.Sub(r.StartedAt)
	return r
}

// classifyOutcomes folds per-item gateway outcomes into the result. The
// ids slice is aligned with the outcomes slice.
func (r *Result) classifyOutcomes(ids []string, outcomes []gateway.ItemOutcome) *Result {
	r.Attempted = len(outcomes)
	for i, outcome := range outcomes {
		if outcome.Succeeded {
			continue
		}

		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		reason := outcome.ServerMessage
		if reason == "" {
			reason = "unattributed transport failure"
		}
		r.FailedItems = append(r.FailedItems, ItemResult{
			ItemID:          id,
			TransportStatus: outcome.TransportStatus,
			Reason:          reason,
		})
	}

	if len(r.FailedItems) > 0 {
		return r.finish(CodeError)
	}
	return r.finish(CodeSuccess)
}
