package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hunchunmed/leadbot/internal/store"
	"github.com/hunchunmed/leadbot/internal/testutil"
)

func newTestMux(t *testing.T) (*http.ServeMux, store.Store) {
	t.Helper()
	server, st := testutil.NewTestServer()
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return mux, st
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := serve(mux, testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, "success")
}

func TestListLeads(t *testing.T) {
	mux, st := newTestMux(t)
	testutil.SeedLead(t, st, "79161234567")

	rr := serve(mux, testutil.CreateHTTPRequest(t, http.MethodGet, "/leads", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list leads")
	resp := testutil.AssertJSONResponse(t, rr, "success")
	leads, ok := resp["result"].([]interface{})
	if !ok || len(leads) != 1 {
		t.Errorf("expected 1 lead in result, got %v", resp["result"])
	}
}

func TestGetLead(t *testing.T) {
	mux, st := newTestMux(t)
	testutil.SeedLead(t, st, "79161234567")

	rr := serve(mux, testutil.CreateHTTPRequest(t, http.MethodGet, "/leads/79161234567", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get lead")

	rr = serve(mux, testutil.CreateHTTPRequest(t, http.MethodGet, "/leads/70000000000", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "get absent lead")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestListMessages(t *testing.T) {
	mux, st := newTestMux(t)
	testutil.SeedLead(t, st, "79161234567")
	st.AppendMessage("79161234567", "user", "my knee hurts")

	rr := serve(mux, testutil.CreateHTTPRequest(t, http.MethodGet, "/leads/79161234567/messages", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list messages")
	resp := testutil.AssertJSONResponse(t, rr, "success")
	msgs, ok := resp["result"].([]interface{})
	if !ok || len(msgs) != 1 {
		t.Errorf("expected 1 message in result, got %v", resp["result"])
	}

	rr = serve(mux, testutil.CreateHTTPRequest(t, http.MethodGet, "/leads/70000000000/messages", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "messages of absent lead")
}

func TestTakeoverAndRelease(t *testing.T) {
	mux, st := newTestMux(t)
	testutil.SeedLead(t, st, "79161234567")

	rr := serve(mux, testutil.CreateHTTPRequest(t, http.MethodPost, "/overrides/70000000000", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "takeover of absent lead")

	rr = serve(mux, testutil.CreateHTTPRequest(t, http.MethodPost, "/overrides/79161234567", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "takeover")

	rr = serve(mux, testutil.CreateHTTPRequest(t, http.MethodGet, "/overrides", nil))
	resp := testutil.AssertJSONResponse(t, rr, "success")
	list, ok := resp["result"].([]interface{})
	if !ok || len(list) != 1 || list[0] != "79161234567" {
		t.Errorf("expected override list with the lead, got %v", resp["result"])
	}

	rr = serve(mux, testutil.CreateHTTPRequest(t, http.MethodDelete, "/overrides/79161234567", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "release")
}

func TestRelayEndpoint(t *testing.T) {
	mux, st := newTestMux(t)
	testutil.SeedLead(t, st, "79161234567")

	rr := serve(mux, testutil.CreateHTTPRequest(t, http.MethodPost, "/relay", map[string]string{
		"identity": "79161234567",
		"text":     "Hello from the operator",
	}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "relay")
	testutil.AssertMessageCount(t, st, "79161234567", 1, "relayed message stored")

	rr = serve(mux, testutil.CreateHTTPRequest(t, http.MethodPost, "/relay", map[string]string{
		"identity": "70000000000",
		"text":     "hi",
	}))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "relay to absent lead")

	rr = serve(mux, testutil.CreateHTTPRequest(t, http.MethodPost, "/relay", map[string]string{"identity": "79161234567"}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "relay without text")
}
