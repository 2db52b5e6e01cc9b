package model

import (
	"fmt"
	"time"
)

// Station represents a physical charging location grouping one or more
// connectors. The ID is the operator-scoped station identifier used as
// the key in all queue sections.
type Station struct {
	ID         string
	Name       string
	OperatorID string
	Address    string
	City       string
	Country    string
	Latitude   float64
	Longitude  float64
	Connectors []Connector
	LastUpdate time.Time
}

// Connector is an individually addressable charging point belonging to a
// station (an EVSE in roaming terminology).
type Connector struct {
	ID        string // globally addressable, e.g. "DE*ABC*E1234*1"
	StationID string
	Standard  string // plug standard, e.g. "IEC_62196_T2"
	MaxPowerKW float64
	Status    ConnectorStatusValue
}

// ConnectorStatusValue is the operational state of a connector as
// reported to the remote service.
type ConnectorStatusValue int

const (
	StatusUnknown ConnectorStatusValue = iota
	StatusAvailable
	StatusOccupied
	StatusOutOfService
	StatusReserved
)

// String returns the wire-level representation of the status value.
func (v ConnectorStatusValue) String() string {
	switch v {
	case StatusAvailable:
		return "available"
	case StatusOccupied:
		return "occupied"
	case StatusOutOfService:
		return "out_of_service"
	case StatusReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// Valid reports whether the value is one of the defined states.
func (v ConnectorStatusValue) Valid() bool {
	return v >= StatusUnknown && v <= StatusReserved
}

// StatusUpdate records one observed connector state transition. Multiple
// updates for the same connector may be queued between flushes; only the
// one with the latest ChangedAt per connector is transmitted.
type StatusUpdate struct {
	ConnectorID string
	StationID   string // owning station, used for fast/delayed partitioning
	Previous    ConnectorStatusValue
	Current     ConnectorStatusValue
	ChangedAt   time.Time
}

// SessionRecord is a completed charging session awaiting upload. Records
// are never deduplicated; each one is independently significant.
type SessionRecord struct {
	SessionID   string
	ConnectorID string
	StationID   string
	StartedAt   time.Time
	EndedAt     time.Time
	EnergyWh    int64
	AuthRef     string
}

// Validate checks station fields that must be present before the station
// is admitted to a queue or pushed directly.
func (s Station) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("station id must not be empty")
	}
	for _, c := range s.Connectors {
		if c.ID == "" {
			return fmt.Errorf("station %s: connector id must not be empty", s.ID)
		}
	}
	return nil
}

// Validate checks status update fields required for queuing and dispatch.
func (u StatusUpdate) Validate() error {
	if u.ConnectorID == "" {
		return fmt.Errorf("status update: connector id must not be empty")
	}
	if u.StationID == "" {
		return fmt.Errorf("status update for %s: station id must not be empty", u.ConnectorID)
	}
	if u.ChangedAt.IsZero() {
		return fmt.Errorf("status update for %s: change timestamp must be set", u.ConnectorID)
	}
	if !u.Current.Valid() {
		return fmt.Errorf("status update for %s: invalid status value %d", u.ConnectorID, u.Current)
	}
	return nil
}

// Validate checks session record fields required for upload.
func (r SessionRecord) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("session record: session id must not be empty")
	}
	if r.ConnectorID == "" {
		return fmt.Errorf("session record %s: connector id must not be empty", r.SessionID)
	}
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return fmt.Errorf("session record %s: start and end time must be set", r.SessionID)
	}
	if r.EndedAt.Before(r.StartedAt) {
		return fmt.Errorf("session record %s: end time before start time", r.SessionID)
	}
	return nil
}
