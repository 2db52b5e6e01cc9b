package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dhofer/chargesync/internal/model"
	"github.com/dhofer/chargesync/internal/push"
	"github.com/dhofer/chargesync/internal/store"
)

// Wire shapes for the admin API. Times travel as RFC 3339, status values
// as their string form.

type apiStation struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	OperatorID string         `json:"operator_id"`
	Address    string         `json:"address,omitempty"`
	City       string         `json:"city,omitempty"`
	Country    string         `json:"country,omitempty"`
	Latitude   float64        `json:"latitude,omitempty"`
	Longitude  float64        `json:"longitude,omitempty"`
	Connectors []apiConnector `json:"connectors"`
}

type apiConnector struct {
	ID         string  `json:"id"`
	Standard   string  `json:"standard,omitempty"`
	MaxPowerKW float64 `json:"max_power_kw,omitempty"`
	Status     string  `json:"status"`
}

type apiStatusUpdate struct {
	ConnectorID string    `json:"connector_id"`
	StationID   string    `json:"station_id"`
	Status      string    `json:"status"`
	ChangedAt   time.Time `json:"changed_at"`
}

type apiRecord struct {
	SessionID   string    `json:"session_id"`
	ConnectorID string    `json:"connector_id"`
	StationID   string    `json:"station_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	EnergyWh    int64     `json:"energy_wh"`
	AuthRef     string    `json:"auth_ref,omitempty"`
}

type apiResult struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Attempted   int             `json:"attempted"`
	FailedItems []apiFailedItem `json:"failed_items,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	RuntimeMS   int64           `json:"runtime_ms"`
	Error       string          `json:"error,omitempty"`
}

type apiFailedItem struct {
	ItemID          string `json:"item_id"`
	TransportStatus int    `json:"transport_status,omitempty"`
	Reason          string `json:"reason"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.adapter.Stats()

	body := map[string]any{
		"pending_adds":     stats.PendingAdds,
		"pending_updates":  stats.PendingUpdates,
		"pending_removals": stats.PendingRemovals,
		"delayed_statuses": stats.DelayedStatuses,
		"pending_records":  stats.PendingRecords,
		"pending_statuses": stats.PendingStatuses,
		"data_runs":        stats.DataRuns,
		"status_runs":      stats.StatusRuns,
		"events_dropped":   stats.EventsDropped,
	}
	if !stats.LastDataFlush.IsZero() {
		body["last_data_flush"] = stats.LastDataFlush
	}
	if !stats.LastStatusFlush.IsZero() {
		body["last_status_flush"] = stats.LastStatusFlush
	}
	if count, err := s.db.CountPushLog(); err == nil {
		body["push_log_entries"] = count
	}

	writeJSON(w, http.StatusOK, body)
}

// handleFlush triggers an immediate flush cycle. The target query
// parameter selects the data queue (default) or the status queue.
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	var res *push.Result
	switch target := r.URL.Query().Get("target"); target {
	case "", "data":
		res = s.adapter.Flush(r.Context())
	case "status":
		res = s.adapter.FlushStatus(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "target must be data or status")
		return
	}

	writeJSON(w, http.StatusOK, toAPIResult(res))
}

func (s *Server) handleListStations(w http.ResponseWriter, _ *http.Request) {
	stations, err := s.db.ListStations()
	if err != nil {
		s.logger.Error("list stations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list stations failed")
		return
	}

	out := make([]apiStation, 0, len(stations))
	for _, st := range stations {
		out = append(out, toAPIStation(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	station, err := s.db.GetStation(id)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "station not found")
			return
		}
		s.logger.Error("get station failed", "station_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get station failed")
		return
	}

	writeJSON(w, http.StatusOK, toAPIStation(*station))
}

// handleUpsertStations persists the posted stations locally and queues
// them for the next data flush. Stations already known locally are queued
// as updates, new ones as creations.
func (s *Server) handleUpsertStations(w http.ResponseWriter, r *http.Request) {
	var body []apiStation
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "at least one station required")
		return
	}

	var adds, updates []model.Station
	for _, as := range body {
		station := fromAPIStation(as)
		if err := station.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		_, err := s.db.GetStation(station.ID)
		known := err == nil
		if err != nil && !store.IsNotFound(err) {
			s.logger.Error("station lookup failed", "station_id", station.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "station lookup failed")
			return
		}

		if err := s.db.UpsertStation(station); err != nil {
			s.logger.Error("station upsert failed", "station_id", station.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "station upsert failed")
			return
		}

		if known {
			updates = append(updates, station)
		} else {
			adds = append(adds, station)
		}
	}

	results := make([]apiResult, 0, 2)
	if len(adds) > 0 {
		res, err := s.adapter.AddStations(r.Context(), push.Enqueue, adds)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		results = append(results, toAPIResult(res))
	}
	if len(updates) > 0 {
		res, err := s.adapter.UpdateStations(r.Context(), push.Enqueue, updates)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		results = append(results, toAPIResult(res))
	}

	writeJSON(w, http.StatusAccepted, results)
}

func (s *Server) handleDeleteStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.db.DeleteStation(id); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "station not found")
			return
		}
		s.logger.Error("station delete failed", "station_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "station delete failed")
		return
	}

	res, err := s.adapter.DeleteStations(r.Context(), push.Enqueue, []model.Station{{ID: id}})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, toAPIResult(res))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body []apiStatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "at least one status update required")
		return
	}

	updates := make([]model.StatusUpdate, 0, len(body))
	for _, u := range body {
		update := model.StatusUpdate{
			ConnectorID: u.ConnectorID,
			StationID:   u.StationID,
			Current:     statusFromString(u.Status),
			ChangedAt:   u.ChangedAt,
		}
		if update.ChangedAt.IsZero() {
			update.ChangedAt = time.Now()
		}
		if err := update.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		updates = append(updates, update)
	}

	// Best effort local mirror; unknown connectors are not an error here,
	// the queue still carries the update outward.
	for _, u := range updates {
		if err := s.db.UpdateConnectorStatus(u.ConnectorID, u.Current); err != nil && !store.IsNotFound(err) {
			s.logger.Warn("connector status mirror failed",
				"connector_id", u.ConnectorID, "error", err)
		}
	}

	res, err := s.adapter.UpdateStatus(r.Context(), push.Enqueue, updates)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, toAPIResult(res))
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	var body []apiRecord
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "at least one record required")
		return
	}

	records := make([]model.SessionRecord, 0, len(body))
	for _, rec := range body {
		record := model.SessionRecord{
			SessionID:   rec.SessionID,
			ConnectorID: rec.ConnectorID,
			StationID:   rec.StationID,
			StartedAt:   rec.StartedAt,
			EndedAt:     rec.EndedAt,
			EnergyWh:    rec.EnergyWh,
			AuthRef:     rec.AuthRef,
		}
		if err := record.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		records = append(records, record)
	}

	for _, rec := range records {
		if err := s.db.InsertSessionRecord(rec); err != nil && err != store.ErrDuplicate {
			s.logger.Error("session record insert failed",
				"session_id", rec.SessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "session record insert failed")
			return
		}
	}

	res, err := s.adapter.SendRecords(r.Context(), push.Enqueue, records)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, toAPIResult(res))
}

func toAPIStation(st model.Station) apiStation {
	connectors := make([]apiConnector, 0, len(st.Connectors))
	for _, c := range st.Connectors {
		connectors = append(connectors, apiConnector{
			ID:         c.ID,
			Standard:   c.Standard,
			MaxPowerKW: c.MaxPowerKW,
			Status:     c.Status.String(),
		})
	}
	return apiStation{
		ID:         st.ID,
		Name:       st.Name,
		OperatorID: st.OperatorID,
		Address:    st.Address,
		City:       st.City,
		Country:    st.Country,
		Latitude:   st.Latitude,
		Longitude:  st.Longitude,
		Connectors: connectors,
	}
}

func fromAPIStation(as apiStation) model.Station {
	connectors := make([]model.Connector, 0, len(as.Connectors))
	for _, c := range as.Connectors {
		connectors = append(connectors, model.Connector{
			ID:         c.ID,
			StationID:  as.ID,
			Standard:   c.Standard,
			MaxPowerKW: c.MaxPowerKW,
			Status:     statusFromString(c.Status),
		})
	}
	return model.Station{
		ID:         as.ID,
		Name:       as.Name,
		OperatorID: as.OperatorID,
		Address:    as.Address,
		City:       as.City,
		Country:    as.Country,
		Latitude:   as.Latitude,
		Longitude:  as.Longitude,
		Connectors: connectors,
		LastUpdate: time.Now(),
	}
}

func statusFromString(s string) model.ConnectorStatusValue {
	switch s {
	case "available":
		return model.StatusAvailable
	case "occupied":
		return model.StatusOccupied
	case "out_of_service":
		return model.StatusOutOfService
	case "reserved":
		return model.StatusReserved
	default:
		return model.StatusUnknown
	}
}

func toAPIResult(res *push.Result) apiResult {
	out := apiResult{
		ID:        res.ID,
		Code:      res.Code.String(),
		Attempted: res.Attempted,
		Warnings:  res.Warnings,
		RuntimeMS: res.Runtime.Milliseconds(),
	}
	for _, item := range res.FailedItems {
		out.FailedItems = append(out.FailedItems, apiFailedItem{
			ItemID:          item.ItemID,
			TransportStatus: item.TransportStatus,
			Reason:          item.Reason,
		})
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
