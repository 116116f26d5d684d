// Package testutil provides common test utilities and helpers for leadbot
// tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hunchunmed/leadbot/internal/api"
	"github.com/hunchunmed/leadbot/internal/flow"
	"github.com/hunchunmed/leadbot/internal/messaging"
	"github.com/hunchunmed/leadbot/internal/models"
	"github.com/hunchunmed/leadbot/internal/store"
	"github.com/hunchunmed/leadbot/internal/whatsapp"
)

// TestOperator is the operator identity used by test fixtures.
const TestOperator = "79990000000"

// NewTestServer creates a test API server with in-memory dependencies and a
// mock transport. The sequencer is wired but not started.
func NewTestServer() (*api.Server, store.Store) {
	msgService := messaging.NewWhatsAppService(whatsapp.NewMockClient())
	st := store.NewInMemoryStore()
	sequencer := flow.NewSequencer(st, msgService, &NoopGenerator{}, TestOperator)
	return api.NewServer("", msgService, st, sequencer), st
}

// NoopGenerator is a reply generator returning canned text, for tests that
// exercise routing rather than generation.
type NoopGenerator struct {
	Reply string
	Err   error
}

// GenerateReply returns the canned reply.
func (g *NoopGenerator) GenerateReply(ctx context.Context, userText, displayName, history string, group bool) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	if g.Reply == "" {
		return "Understood.", nil
	}
	return g.Reply, nil
}

// GenerateCommandReply returns the canned reply.
func (g *NoopGenerator) GenerateCommandReply(ctx context.Context, command, displayName string) (string, error) {
	return g.GenerateReply(ctx, command, displayName, "", false)
}

// SeedLead creates a lead that has passed the name and problem stages.
func SeedLead(t *testing.T, st store.Store, identity string) *models.LeadRecord {
	t.Helper()
	lead, err := st.CreateLead(models.LeadRecord{
		Identity:     identity,
		DisplayName:  "Test Lead",
		ChatAddress:  identity,
		RegisteredAt: time.Now(),
		LastActiveAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to create test lead: %v", err)
	}
	return lead
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it
// doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertMessageCount validates the size of a lead's message log.
func AssertMessageCount(t *testing.T, st store.Store, identity string, expected int, context string) {
	t.Helper()
	messages, err := st.ListMessages(identity, 0)
	if err != nil {
		t.Fatalf("%s: failed to list messages: %v", context, err)
	}
	if len(messages) != expected {
		t.Errorf("%s: expected %d messages, got %d", context, expected, len(messages))
	}
}
