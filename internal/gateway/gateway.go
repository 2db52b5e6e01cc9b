package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/dhofer/chargesync/internal/model"
)

// ActionType selects how a station batch is applied on the remote side.
// The first data flush of a process pushes the whole inventory as a
// full load; later flushes push incremental inserts, updates and deletes.
type ActionType int

const (
	ActionFullLoad ActionType = iota
	ActionInsert
	ActionUpdate
	ActionDelete
)

// String returns the wire-level action name.
func (a ActionType) String() string {
	switch a {
	case ActionFullLoad:
		return "full_load"
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ItemOutcome is the per-item result of a bulk push. The gateway returns
// one outcome per input item, order-preserving. Any response that cannot
// be decoded is reported as a failed outcome carrying the raw transport
// status as its message.
type ItemOutcome struct {
	Succeeded       bool
	TransportStatus int
	ServerMessage   string
}

// AuthorizeRequest is a remote start/stop authorization request.
type AuthorizeRequest struct {
	ConnectorID string
	TokenRef    string
	SessionID   string // only for stop
}

// AuthorizeResult is the remote service's answer to an authorization call.
type AuthorizeResult struct {
	Authorized      bool
	SessionID       string
	TransportStatus int
	ServerMessage   string
}

// Client is the boundary the push core dispatches through. Implementations
// must honor the context deadline per call; the core does not cancel an
// in-flight dispatch itself.
type Client interface {
	PushStations(ctx context.Context, action ActionType, stations []model.Station) ([]ItemOutcome, error)
	PushStatuses(ctx context.Context, statuses []model.StatusUpdate) ([]ItemOutcome, error)
	PushRecords(ctx context.Context, records []model.SessionRecord) ([]ItemOutcome, error)
	AuthorizeStart(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
	AuthorizeStop(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
}

// Config holds the remote endpoint settings for the HTTP client.
type Config struct {
	BaseURL        string        `toml:"base_url"`
	APIKey         string        `toml:"api_key"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// DefaultConfig returns gateway defaults suitable for a local test
// endpoint; production deployments always override base_url and api_key.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:9440",
		RequestTimeout: 30 * time.Second,
	}
}

// validateConfig validates gateway configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.BaseURL == "" {
		return fmt.Errorf("gateway base_url must be specified")
	}
	if config.RequestTimeout <= 0 {
		return fmt.Errorf("gateway request_timeout must be positive, got %v", config.RequestTimeout)
	}
	return nil
}
