package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhofer/chargesync/internal/gateway"
	"github.com/dhofer/chargesync/internal/model"
)

// GatewayCall records one dispatch to the mock gateway.
type GatewayCall struct {
	Method   string
	Action   gateway.ActionType
	Stations []model.Station
	Statuses []model.StatusUpdate
	Records  []model.SessionRecord
	Request  gateway.AuthorizeRequest
}

// MockGateway provides a scripted gateway.Client for testing
type MockGateway struct {
	mu           sync.Mutex
	calls        []GatewayCall
	pushError    error
	pushDelay    time.Duration
	failItems    map[string]bool
	authResult   gateway.AuthorizeResult
	authError    error
	transportOK  int
	transportBad int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		calls:        make([]GatewayCall, 0),
		failItems:    make(map[string]bool),
		authResult:   gateway.AuthorizeResult{Authorized: true, SessionID: "mock-session"},
		transportOK:  200,
		transportBad: 422,
	}
}

// SetPushError makes every bulk push fail at the transport level.
func (m *MockGateway) SetPushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushError = err
}

// SetPushDelay makes every bulk push block before returning.
func (m *MockGateway) SetPushDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushDelay = delay
}

// FailItem marks an item ID as rejected by the server. The push itself
// still succeeds at the transport level.
func (m *MockGateway) FailItem(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failItems[id] = true
}

// SetAuthorizeResult scripts the answer to AuthorizeStart/AuthorizeStop.
func (m *MockGateway) SetAuthorizeResult(result gateway.AuthorizeResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authResult = result
	m.authError = err
}

func (m *MockGateway) PushStations(_ context.Context, action gateway.ActionType, stations []model.Station) ([]gateway.ItemOutcome, error) {
	ids := make([]string, len(stations))
	for i, s := range stations {
		ids[i] = s.ID
	}
	return m.push(GatewayCall{Method: "PushStations", Action: action, Stations: stations}, ids)
}

func (m *MockGateway) PushStatuses(_ context.Context, statuses []model.StatusUpdate) ([]gateway.ItemOutcome, error) {
	ids := make([]string, len(statuses))
	for i, u := range statuses {
		ids[i] = u.ConnectorID
	}
	return m.push(GatewayCall{Method: "PushStatuses", Statuses: statuses}, ids)
}

func (m *MockGateway) PushRecords(_ context.Context, records []model.SessionRecord) ([]gateway.ItemOutcome, error) {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.SessionID
	}
	return m.push(GatewayCall{Method: "PushRecords", Records: records}, ids)
}

func (m *MockGateway) AuthorizeStart(_ context.Context, req gateway.AuthorizeRequest) (gateway.AuthorizeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, GatewayCall{Method: "AuthorizeStart", Request: req})
	return m.authResult, m.authError
}

func (m *MockGateway) AuthorizeStop(_ context.Context, req gateway.AuthorizeRequest) (gateway.AuthorizeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, GatewayCall{Method: "AuthorizeStop", Request: req})
	return m.authResult, m.authError
}

func (m *MockGateway) push(call GatewayCall, ids []string) ([]gateway.ItemOutcome, error) {
	m.mu.Lock()
	delay := m.pushDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, call)

	if m.pushError != nil {
		return nil, m.pushError
	}

	outcomes := make([]gateway.ItemOutcome, len(ids))
	for i, id := range ids {
		if m.failItems[id] {
			outcomes[i] = gateway.ItemOutcome{
				Succeeded:       false,
				TransportStatus: m.transportBad,
				ServerMessage:   "rejected by server",
			}
		} else {
			outcomes[i] = gateway.ItemOutcome{
				Succeeded:       true,
				TransportStatus: m.transportOK,
			}
		}
	}
	return outcomes, nil
}

// Calls returns a copy of all recorded calls.
func (m *MockGateway) Calls() []GatewayCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]GatewayCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallsByMethod returns recorded calls with the given method name.
func (m *MockGateway) CallsByMethod(method string) []GatewayCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]GatewayCall, 0)
	for _, c := range m.calls {
		if c.Method == method {
			result = append(result, c)
		}
	}
	return result
}

func (m *MockGateway) CountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockGateway) ClearCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]GatewayCall, 0)
}

// TestLogger provides a logger that captures logs for testing
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

func NewTestLogger() *TestLogger {
	return &TestLogger{
		entries: make([]LogEntry, 0),
	}
}

func (l *TestLogger) Debug(msg string, fields ...interface{}) {
	l.log("DEBUG", msg, fields...)
}

func (l *TestLogger) Info(msg string, fields ...interface{}) {
	l.log("INFO", msg, fields...)
}

func (l *TestLogger) Warn(msg string, fields ...interface{}) {
	l.log("WARN", msg, fields...)
}

func (l *TestLogger) Error(msg string, fields ...interface{}) {
	l.log("ERROR", msg, fields...)
}

func (l *TestLogger) log(level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{
		Level:   level,
		Message: msg,
		Fields:  make(map[string]interface{}),
	}

	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key := fmt.Sprintf("%v", fields[i])
			entry.Fields[key] = fields[i+1]
		}
	}

	l.entries = append(l.entries, entry)
}

func (l *TestLogger) GetEntries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

func (l *TestLogger) GetEntriesByLevel(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, 0)
	for _, entry := range l.entries {
		if entry.Level == level {
			result = append(result, entry)
		}
	}
	return result
}

func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]LogEntry, 0)
}

func (l *TestLogger) HasError() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Level == "ERROR" {
			return true
		}
	}
	return false
}

func (l *TestLogger) HasWarning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Level == "WARN" {
			return true
		}
	}
	return false
}

func (l *TestLogger) HasDebug() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Level == "DEBUG" {
			return true
		}
	}
	return false
}

// Logger returns a *slog.Logger that writes to this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&testLogHandler{logger: l})
}

// testLogHandler implements slog.Handler for TestLogger
type testLogHandler struct {
	logger *TestLogger
	attrs  []slog.Attr
	groups []string
}

func (h *testLogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()
	msg := r.Message

	// Collect all attributes
	fields := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, a.Key, a.Value.Any())
		return true
	})

	// Add handler-level attributes
	for _, attr := range h.attrs {
		fields = append(fields, attr.Key, attr.Value.Any())
	}

	h.logger.log(level, msg, fields...)
	return nil
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &testLogHandler{
		logger: h.logger,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name
	return &testLogHandler{
		logger: h.logger,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// WaitFor waits for a condition to be true with timeout
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		select {
		case <-ticker.C:
			if time.Now().After(deadline) {
				t.Errorf("timeout waiting for condition: %v", msgAndArgs)
				return false
			}
		}
	}
}

// TestingT is a minimal interface for testing
type TestingT interface {
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}
