package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dhofer/chargesync/internal/model"
)

// HTTPClient is the production Client implementation speaking JSON over
// HTTP to the remote roaming service.
type HTTPClient struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates a gateway client with the specified configuration.
func NewHTTPClient(config Config, logger *slog.Logger) (*HTTPClient, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &HTTPClient{
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
		logger: logger,
	}, nil
}

// Wire shapes. The remote service answers every bulk push with one entry
// per submitted item, in submission order.

type stationPushRequest struct {
	Action   string        `json:"action"`
	Stations []wireStation `json:"stations"`
}

type wireStation struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	OperatorID string          `json:"operator_id"`
	Address    string          `json:"address"`
	City       string          `json:"city"`
	Country    string          `json:"country"`
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Connectors []wireConnector `json:"connectors"`
	LastUpdate time.Time       `json:"last_update"`
}

type wireConnector struct {
	ID         string  `json:"id"`
	Standard   string  `json:"standard"`
	MaxPowerKW float64 `json:"max_power_kw"`
	Status     string  `json:"status"`
}

type statusPushRequest struct {
	Statuses []wireStatus `json:"statuses"`
}

type wireStatus struct {
	ConnectorID string    `json:"connector_id"`
	Status      string    `json:"status"`
	ChangedAt   time.Time `json:"changed_at"`
}

type recordPushRequest struct {
	Records []wireRecord `json:"records"`
}

type wireRecord struct {
	SessionID   string    `json:"session_id"`
	ConnectorID string    `json:"connector_id"`
	StationID   string    `json:"station_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	EnergyWh    int64     `json:"energy_wh"`
	AuthRef     string    `json:"auth_ref"`
}

type pushResponse struct {
	Results []itemResult `json:"results"`
}

type itemResult struct {
	Status  string `json:"status"` // "ok" or "error"
	Message string `json:"message,omitempty"`
}

type authorizeResponse struct {
	Authorized bool   `json:"authorized"`
	SessionID  string `json:"session_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// PushStations uploads a station batch with the given action.
func (c *HTTPClient) PushStations(ctx context.Context, action ActionType, stations []model.Station) ([]ItemOutcome, error) {
	req := stationPushRequest{Action: action.String()}
	for _, s := range stations {
		req.Stations = append(req.Stations, toWireStation(s))
	}

	return c.bulkPost(ctx, "/api/v1/stations", req, len(stations))
}

// PushStatuses uploads a connector status batch.
func (c *HTTPClient) PushStatuses(ctx context.Context, statuses []model.StatusUpdate) ([]ItemOutcome, error) {
	req := statusPushRequest{}
	for _, u := range statuses {
		req.Statuses = append(req.Statuses, wireStatus{
			ConnectorID: u.ConnectorID,
			Status:      u.Current.String(),
			ChangedAt:   u.ChangedAt,
		})
	}

	return c.bulkPost(ctx, "/api/v1/statuses", req, len(statuses))
}

// PushRecords uploads a completed session record batch.
func (c *HTTPClient) PushRecords(ctx context.Context, records []model.SessionRecord) ([]ItemOutcome, error) {
	req := recordPushRequest{}
	for _, r := range records {
		req.Records = append(req.Records, wireRecord{
			SessionID:   r.SessionID,
			ConnectorID: r.ConnectorID,
			StationID:   r.StationID,
			StartedAt:   r.StartedAt,
			EndedAt:     r.EndedAt,
			EnergyWh:    r.EnergyWh,
			AuthRef:     r.AuthRef,
		})
	}

	return c.bulkPost(ctx, "/api/v1/records", req, len(records))
}

// AuthorizeStart requests remote authorization to start charging.
func (c *HTTPClient) AuthorizeStart(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	return c.authorize(ctx, "/api/v1/authorize/start", req)
}

// AuthorizeStop requests remote authorization to stop a session.
func (c *HTTPClient) AuthorizeStop(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	return c.authorize(ctx, "/api/v1/authorize/stop", req)
}

// bulkPost performs one bulk upload and maps the response to per-item
// outcomes. A response that cannot be decoded, or that carries the wrong
// number of results, is reported as itemCount failed outcomes with the
// raw transport status as the message.
func (c *HTTPClient) bulkPost(ctx context.Context, path string, payload interface{}, itemCount int) ([]ItemOutcome, error) {
	status, body, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}

	var decoded pushResponse
	if decodeErr := json.Unmarshal(body, &decoded); decodeErr != nil || len(decoded.Results) != itemCount {
		c.logger.Warn("undecodable gateway response",
			"path", path,
			"transport_status", status,
			"item_count", itemCount)
		return uniformOutcomes(itemCount, status, fmt.Sprintf("HTTP %d", status)), nil
	}

	outcomes := make([]ItemOutcome, itemCount)
	for i, r := range decoded.Results {
		outcomes[i] = ItemOutcome{
			Succeeded:       r.Status == "ok" && status < http.StatusBadRequest,
			TransportStatus: status,
			ServerMessage:   r.Message,
		}
	}

	return outcomes, nil
}

func (c *HTTPClient) authorize(ctx context.Context, path string, req AuthorizeRequest) (AuthorizeResult, error) {
	status, body, err := c.post(ctx, path, req)
	if err != nil {
		return AuthorizeResult{}, err
	}

	var decoded authorizeResponse
	if decodeErr := json.Unmarshal(body, &decoded); decodeErr != nil {
		return AuthorizeResult{
			Authorized:      false,
			TransportStatus: status,
			ServerMessage:   fmt.Sprintf("HTTP %d", status),
		}, nil
	}

	return AuthorizeResult{
		Authorized:      decoded.Authorized,
		SessionID:       decoded.SessionID,
		TransportStatus: status,
		ServerMessage:   decoded.Message,
	}, nil
}

// post sends one JSON request and reads the full response body.
func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request for %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read gateway response from %s: %w", path, err)
	}

	return resp.StatusCode, body, nil
}

func uniformOutcomes(count, status int, message string) []ItemOutcome {
	outcomes := make([]ItemOutcome, count)
	for i := range outcomes {
		outcomes[i] = ItemOutcome{
			Succeeded:       false,
			TransportStatus: status,
			ServerMessage:   message,
		}
	}
	return outcomes
}

func toWireStation(s model.Station) wireStation {
	ws := wireStation{
		ID:         s.ID,
		Name:       s.Name,
		OperatorID: s.OperatorID,
		Address:    s.Address,
		City:       s.City,
		Country:    s.Country,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		LastUpdate: s.LastUpdate,
	}
	for _, conn := range s.Connectors {
		ws.Connectors = append(ws.Connectors, wireConnector{
			ID:         conn.ID,
			Standard:   conn.Standard,
			MaxPowerKW: conn.MaxPowerKW,
			Status:     conn.Status.String(),
		})
	}
	return ws
}
