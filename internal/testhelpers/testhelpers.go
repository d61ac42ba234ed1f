// Package testhelpers provides reusable testing utilities for alertflow.
//
// This package contains:
// - HTTP test helpers (creating requests, asserting responses)
// - An in-memory database per test
// - A controllable clock
// - Mock implementations (alert adapters, notifiers)
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/akmatori/alertflow/internal/alerts"
	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/notify"
)

// ========================================
// HTTP Test Helpers
// ========================================

// HTTPTestContext holds components for HTTP handler testing
type HTTPTestContext struct {
	T        *testing.T
	Recorder *httptest.ResponseRecorder
	Request  *http.Request
}

// NewHTTPTestContext creates a new HTTP test context
func NewHTTPTestContext(t *testing.T, method, path string, body io.Reader) *HTTPTestContext {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	return &HTTPTestContext{
		T:        t,
		Recorder: httptest.NewRecorder(),
		Request:  req,
	}
}

// WithHeader adds a header to the request
func (ctx *HTTPTestContext) WithHeader(key, value string) *HTTPTestContext {
	ctx.Request.Header.Set(key, value)
	return ctx
}

// WithJSONBody sets JSON body on the request
func (ctx *HTTPTestContext) WithJSONBody(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		ctx.T.Fatalf("failed to marshal JSON body: %v", err)
	}
	headers := ctx.Request.Header.Clone()
	ctx.Request = httptest.NewRequest(ctx.Request.Method, ctx.Request.URL.String(), bytes.NewReader(body))
	ctx.Request.Header = headers
	ctx.Request.Header.Set("Content-Type", "application/json")
	return ctx
}

// WithBearerToken adds Authorization Bearer header
func (ctx *HTTPTestContext) WithBearerToken(token string) *HTTPTestContext {
	return ctx.WithHeader("Authorization", "Bearer "+token)
}

// Execute runs the handler and returns the response
func (ctx *HTTPTestContext) Execute(handler http.Handler) *HTTPTestContext {
	handler.ServeHTTP(ctx.Recorder, ctx.Request)
	return ctx
}

// ExecuteFunc runs the handler func and returns the response
func (ctx *HTTPTestContext) ExecuteFunc(handler http.HandlerFunc) *HTTPTestContext {
	handler(ctx.Recorder, ctx.Request)
	return ctx
}

// AssertStatus checks the response status code
func (ctx *HTTPTestContext) AssertStatus(expected int) *HTTPTestContext {
	ctx.T.Helper()
	if ctx.Recorder.Code != expected {
		ctx.T.Errorf("expected status %d, got %d. Body: %s", expected, ctx.Recorder.Code, ctx.Recorder.Body.String())
	}
	return ctx
}

// AssertBodyContains checks if response body contains substring
func (ctx *HTTPTestContext) AssertBodyContains(substr string) *HTTPTestContext {
	ctx.T.Helper()
	body := ctx.Recorder.Body.String()
	if !strings.Contains(body, substr) {
		ctx.T.Errorf("expected body to contain %q, got: %s", substr, body)
	}
	return ctx
}

// DecodeJSON decodes response body as JSON
func (ctx *HTTPTestContext) DecodeJSON(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	if err := json.NewDecoder(ctx.Recorder.Body).Decode(v); err != nil {
		ctx.T.Fatalf("failed to decode JSON response: %v", err)
	}
	return ctx
}

// ========================================
// Database
// ========================================

// NewTestDB opens a migrated in-memory SQLite database private to the test.
// A single connection keeps every statement on the same memory database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open(dsn, logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// ========================================
// Clock
// ========================================

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the clock's current time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// ========================================
// Mock Notifier
// ========================================

// Notification is one call captured by RecordingNotifier
type Notification struct {
	Recipient string
	Channel   string
	Payload   notify.Payload
}

// RecordingNotifier implements notify.Notifier and remembers every call
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
	fail  map[string]error
}

// NewRecordingNotifier creates a notifier that accepts everything
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{fail: make(map[string]error)}
}

// FailChannel makes every send on channel return err
func (n *RecordingNotifier) FailChannel(channel string, err error) *RecordingNotifier {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail[channel] = err
	return n
}

// Notify records the call
func (n *RecordingNotifier) Notify(_ context.Context, recipient, channel string, payload notify.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Notification{Recipient: recipient, Channel: channel, Payload: payload})
	return n.fail[channel]
}

// Calls returns a copy of the recorded calls
func (n *RecordingNotifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.calls))
	copy(out, n.calls)
	return out
}

// CallsForTier returns the recorded calls for one tier
func (n *RecordingNotifier) CallsForTier(tier int) []Notification {
	var out []Notification
	for _, c := range n.Calls() {
		if c.Payload.TierNumber == tier {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = nil
}

// ========================================
// Mock Alert Adapter
// ========================================

// MockAlertAdapter implements alerts.AlertAdapter for testing
type MockAlertAdapter struct {
	SourceType           string
	ParsedAlerts         []alerts.NormalizedAlert
	ParseError           error
	ValidateSecretErr    error
	DefaultMappings      datatypes.JSONMap
	ParsePayloadCalled   bool
	ValidateSecretCalled bool
}

// NewMockAlertAdapter creates a new mock adapter
func NewMockAlertAdapter(sourceType string) *MockAlertAdapter {
	return &MockAlertAdapter{
		SourceType:      sourceType,
		ParsedAlerts:    []alerts.NormalizedAlert{},
		DefaultMappings: datatypes.JSONMap{},
	}
}

// GetSourceType returns the source type
func (m *MockAlertAdapter) GetSourceType() string {
	return m.SourceType
}

// ParsePayload returns the configured alerts
func (m *MockAlertAdapter) ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]alerts.NormalizedAlert, error) {
	m.ParsePayloadCalled = true
	if m.ParseError != nil {
		return nil, m.ParseError
	}
	return m.ParsedAlerts, nil
}

// ValidateWebhookSecret returns the configured validation error
func (m *MockAlertAdapter) ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error {
	m.ValidateSecretCalled = true
	return m.ValidateSecretErr
}

// GetDefaultMappings returns default field mappings
func (m *MockAlertAdapter) GetDefaultMappings() datatypes.JSONMap {
	return m.DefaultMappings
}

// WithAlerts configures alerts to return from ParsePayload
func (m *MockAlertAdapter) WithAlerts(parsed ...alerts.NormalizedAlert) *MockAlertAdapter {
	m.ParsedAlerts = parsed
	return m
}

// WithParseError configures ParsePayload to return an error
func (m *MockAlertAdapter) WithParseError(err error) *MockAlertAdapter {
	m.ParseError = err
	return m
}

// WithValidationError configures ValidateWebhookSecret to return an error
func (m *MockAlertAdapter) WithValidationError(err error) *MockAlertAdapter {
	m.ValidateSecretErr = err
	return m
}

// ========================================
// Timing Helpers
// ========================================

// MustCompleteWithin fails the test if the function takes longer than the timeout
func MustCompleteWithin(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		t.Fatalf("function did not complete within %v", timeout)
	}
}
