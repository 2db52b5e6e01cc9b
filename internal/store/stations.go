package store

import (
	"database/sql"
	"time"

	"github.com/dhofer/chargesync/internal/model"
)

// =============================================================================
// Station Operations
// =============================================================================

// UpsertStation inserts or replaces a station and its connectors.
func (db *DB) UpsertStation(station model.Station) error {
	now := time.Now()

	return db.WithTransaction(func(tx *sql.Tx) error {
		query := `
			INSERT INTO stations (id, name, operator_id, address, city, country, latitude, longitude, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				operator_id = excluded.operator_id,
				address = excluded.address,
				city = excluded.city,
				country = excluded.country,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				updated_at = excluded.updated_at
		`

		if _, err := tx.Exec(query,
			station.ID, station.Name, station.OperatorID,
			station.Address, station.City, station.Country,
			station.Latitude, station.Longitude, now, now); err != nil {
			return err
		}

		// Connectors are replaced wholesale; the station payload always
		// carries the complete set.
		if _, err := tx.Exec(`DELETE FROM connectors WHERE station_id = ?`, station.ID); err != nil {
			return err
		}

		for _, conn := range station.Connectors {
			if _, err := tx.Exec(`
				INSERT INTO connectors (id, station_id, standard, max_power_kw, status)
				VALUES (?, ?, ?, ?, ?)
			`, conn.ID, station.ID, conn.Standard, conn.MaxPowerKW, int(conn.Status)); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetStation retrieves a station with its connectors by ID.
func (db *DB) GetStation(id string) (*model.Station, error) {
	station := &model.Station{}

	query := `
		SELECT id, name, operator_id, address, city, country, latitude, longitude, updated_at
		FROM stations
		WHERE id = ?
	`

	err := db.QueryRow(query, id).Scan(
		&station.ID,
		&station.Name,
		&station.OperatorID,
		&station.Address,
		&station.City,
		&station.Country,
		&station.Latitude,
		&station.Longitude,
		&station.LastUpdate,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	connectors, err := db.listConnectors(id)
	if err != nil {
		return nil, err
	}
	station.Connectors = connectors

	return station, nil
}

// ListStations retrieves all stations with their connectors, ordered by ID.
func (db *DB) ListStations() ([]model.Station, error) {
	query := `
		SELECT id, name, operator_id, address, city, country, latitude, longitude, updated_at
		FROM stations
		ORDER BY id
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []model.Station
	for rows.Next() {
		var station model.Station
		err := rows.Scan(
			&station.ID,
			&station.Name,
			&station.OperatorID,
			&station.Address,
			&station.City,
			&station.Country,
			&station.Latitude,
			&station.Longitude,
			&station.LastUpdate,
		)
		if err != nil {
			return nil, err
		}
		stations = append(stations, station)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	for i := range stations {
		connectors, err := db.listConnectors(stations[i].ID)
		if err != nil {
			return nil, err
		}
		stations[i].Connectors = connectors
	}

	// Return empty slice instead of nil
	if stations == nil {
		stations = []model.Station{}
	}

	return stations, nil
}

// DeleteStation deletes a station by ID. Connectors cascade.
func (db *DB) DeleteStation(id string) error {
	result, err := db.Exec(`DELETE FROM stations WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateConnectorStatus stores the latest observed status of a connector.
func (db *DB) UpdateConnectorStatus(connectorID string, status model.ConnectorStatusValue) error {
	result, err := db.Exec(`UPDATE connectors SET status = ? WHERE id = ?`, int(status), connectorID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *DB) listConnectors(stationID string) ([]model.Connector, error) {
	rows, err := db.Query(`
		SELECT id, station_id, standard, max_power_kw, status
		FROM connectors
		WHERE station_id = ?
		ORDER BY id
	`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connectors []model.Connector
	for rows.Next() {
		var conn model.Connector
		var status int
		if err := rows.Scan(&conn.ID, &conn.StationID, &conn.Standard, &conn.MaxPowerKW, &status); err != nil {
			return nil, err
		}
		conn.Status = model.ConnectorStatusValue(status)
		connectors = append(connectors, conn)
	}

	return connectors, rows.Err()
}
