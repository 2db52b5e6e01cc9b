package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dhofer/chargesync/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))
}

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(Config{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		RequestTimeout: 5 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	return client, server
}

func okResults(n int) pushResponse {
	resp := pushResponse{}
	for i := 0; i < n; i++ {
		resp.Results = append(resp.Results, itemResult{Status: "ok"})
	}
	return resp
}

// TestHTTPClient_PushStationsWire verifies path, auth header and action
// encoding of a station push.
func TestHTTPClient_PushStationsWire(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody stationPushRequest

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(okResults(1))
	}))

	stations := []model.Station{{
		ID:         "st-1",
		Name:       "Test Station",
		OperatorID: "op-1",
		Connectors: []model.Connector{
			{ID: "c-1", Standard: "IEC_62196_T2", MaxPowerKW: 22, Status: model.StatusAvailable},
		},
	}}

	outcomes, err := client.PushStations(context.Background(), ActionFullLoad, stations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/v1/stations" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("unexpected auth header: %s", gotAuth)
	}
	if gotBody.Action != "full_load" {
		t.Errorf("expected full_load action, got %s", gotBody.Action)
	}
	if len(gotBody.Stations) != 1 || gotBody.Stations[0].Connectors[0].Status != "available" {
		t.Errorf("unexpected station payload: %+v", gotBody.Stations)
	}
	if len(outcomes) != 1 || !outcomes[0].Succeeded {
		t.Errorf("expected 1 successful outcome, got %v", outcomes)
	}
}

// TestHTTPClient_PerItemFailures verifies per-item error results are
// mapped in submission order.
func TestHTTPClient_PerItemFailures(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := pushResponse{Results: []itemResult{
			{Status: "ok"},
			{Status: "error", Message: "unknown operator"},
		}}
		json.NewEncoder(w).Encode(resp)
	}))

	stations := []model.Station{{ID: "st-1", OperatorID: "op-1"}, {ID: "st-2", OperatorID: "op-x"}}
	outcomes, err := client.PushStations(context.Background(), ActionInsert, stations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Succeeded {
		t.Error("expected first item to succeed")
	}
	if outcomes[1].Succeeded || outcomes[1].ServerMessage != "unknown operator" {
		t.Errorf("unexpected second outcome: %+v", outcomes[1])
	}
}

// TestHTTPClient_UndecodableResponse verifies a garbage response body maps
// to uniform failed outcomes carrying the transport status.
func TestHTTPClient_UndecodableResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))

	statuses := []model.StatusUpdate{
		{ConnectorID: "c-1", StationID: "st-1", Current: model.StatusAvailable, ChangedAt: time.Now()},
		{ConnectorID: "c-2", StationID: "st-1", Current: model.StatusOccupied, ChangedAt: time.Now()},
	}
	outcomes, err := client.PushStatuses(context.Background(), statuses)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Succeeded {
			t.Errorf("outcome %d: expected failure", i)
		}
		if o.TransportStatus != http.StatusBadGateway {
			t.Errorf("outcome %d: expected 502, got %d", i, o.TransportStatus)
		}
		if o.ServerMessage != "HTTP 502" {
			t.Errorf("outcome %d: unexpected message %q", i, o.ServerMessage)
		}
	}
}

// TestHTTPClient_WrongResultCount verifies a response with a mismatched
// result count is treated as undecodable.
func TestHTTPClient_WrongResultCount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(okResults(1))
	}))

	records := []model.SessionRecord{
		{SessionID: "sess-1"},
		{SessionID: "sess-2"},
	}
	outcomes, err := client.PushRecords(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Succeeded || outcomes[1].Succeeded {
		t.Error("expected all outcomes failed for mismatched result count")
	}
}

// TestHTTPClient_TransportError verifies an unreachable endpoint surfaces
// as an error, not as outcomes.
func TestHTTPClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Immediately unreachable

	client, err := NewHTTPClient(Config{
		BaseURL:        server.URL,
		RequestTimeout: time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	outcomes, err := client.PushStations(context.Background(), ActionInsert, []model.Station{{ID: "st-1"}})
	if err == nil {
		t.Error("expected transport error")
	}
	if outcomes != nil {
		t.Errorf("expected no outcomes on transport error, got %v", outcomes)
	}
}

// TestHTTPClient_AuthorizeStart verifies the authorize round trip.
func TestHTTPClient_AuthorizeStart(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(authorizeResponse{
			Authorized: true,
			SessionID:  "sess-42",
		})
	}))

	result, err := client.AuthorizeStart(context.Background(), AuthorizeRequest{
		ConnectorID: "c-1",
		TokenRef:    "token-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/v1/authorize/start" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if !result.Authorized || result.SessionID != "sess-42" {
		t.Errorf("unexpected result: %+v", result)
	}
}

// TestHTTPClient_AuthorizeDenied verifies a denial decodes cleanly.
func TestHTTPClient_AuthorizeDenied(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(authorizeResponse{
			Authorized: false,
			Message:    "token expired",
		})
	}))

	result, err := client.AuthorizeStop(context.Background(), AuthorizeRequest{
		ConnectorID: "c-1",
		SessionID:   "sess-42",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Authorized {
		t.Error("expected denial")
	}
	if result.TransportStatus != http.StatusForbidden || result.ServerMessage != "token expired" {
		t.Errorf("unexpected result: %+v", result)
	}
}

// TestNewHTTPClient_RejectsInvalidConfig verifies config validation.
func TestNewHTTPClient_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewHTTPClient(Config{RequestTimeout: time.Second}, testLogger()); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := NewHTTPClient(Config{BaseURL: "http://localhost"}, testLogger()); err == nil {
		t.Error("expected error for zero timeout")
	}
}
