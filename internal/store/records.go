package store

import (
	"database/sql"
	"time"

	"github.com/dhofer/chargesync/internal/model"
	"github.com/dhofer/chargesync/internal/push"
)

// =============================================================================
// Session Record Operations
// =============================================================================

// InsertSessionRecord stores a completed session before it is queued for
// upload.
func (db *DB) InsertSessionRecord(record model.SessionRecord) error {
	query := `
		INSERT INTO session_records (session_id, connector_id, station_id, started_at, ended_at, energy_wh, auth_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		record.SessionID, record.ConnectorID, record.StationID,
		record.StartedAt, record.EndedAt, record.EnergyWh, record.AuthRef)
	if err != nil && IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// MarkRecordsUploaded stamps the given sessions as delivered.
func (db *DB) MarkRecordsUploaded(sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}

	now := time.Now()
	return db.WithTransaction(func(tx *sql.Tx) error {
		for _, id := range sessionIDs {
			if _, err := tx.Exec(`UPDATE session_records SET uploaded_at = ? WHERE session_id = ?`, now, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPendingRecords returns records that have not been marked uploaded,
// in session start order.
func (db *DB) ListPendingRecords() ([]model.SessionRecord, error) {
	rows, err := db.Query(`
		SELECT session_id, connector_id, station_id, started_at, ended_at, energy_wh, auth_ref
		FROM session_records
		WHERE uploaded_at IS NULL
		ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SessionRecord
	for rows.Next() {
		var r model.SessionRecord
		if err := rows.Scan(&r.SessionID, &r.ConnectorID, &r.StationID, &r.StartedAt, &r.EndedAt, &r.EnergyWh, &r.AuthRef); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if records == nil {
		records = []model.SessionRecord{}
	}

	return records, nil
}

// =============================================================================
// Push Log Operations
// =============================================================================

// AppendPushLog records the outcome of one completed push call or flush
// cycle. The in-memory queue is not persisted, so this trail is the only
// durable record of what was dispatched.
func (db *DB) AppendPushLog(operation string, result *push.Result) error {
	query := `
		INSERT INTO push_log (id, operation, code, attempted, failed, runtime_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		result.ID, operation, result.Code.String(),
		result.Attempted, len(result.FailedItems),
		result.Runtime.Milliseconds(), result.EndedAt)
	return err
}

// CountPushLog returns the number of recorded push outcomes.
func (db *DB) CountPushLog() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM push_log`).Scan(&count)
	return count, err
}
