// Package api provides HTTP handlers for leadbot management endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hunchunmed/leadbot/internal/models"
)

// RegisterRoutes mounts all management endpoints on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /leads", s.listLeadsHandler)
	mux.HandleFunc("GET /leads/{identity}", s.getLeadHandler)
	mux.HandleFunc("GET /leads/{identity}/messages", s.listMessagesHandler)
	mux.HandleFunc("GET /overrides", s.listOverridesHandler)
	mux.HandleFunc("POST /overrides/{identity}", s.takeoverHandler)
	mux.HandleFunc("DELETE /overrides/{identity}", s.releaseHandler)
	mux.HandleFunc("POST /relay", s.relayHandler)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

func (s *Server) listLeadsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listLeadsHandler: processing request")
	leads, err := s.st.ListLeads()
	if err != nil {
		slog.Error("Server.listLeadsHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list leads"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

func (s *Server) getLeadHandler(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	slog.Debug("Server.getLeadHandler: processing request", "identity", identity)
	lead, err := s.st.GetLead(identity)
	if err != nil {
		slog.Error("Server.getLeadHandler: failed to load lead", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load lead"))
		return
	}
	if lead == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	slog.Debug("Server.listMessagesHandler: processing request", "identity", identity)
	lead, err := s.st.GetLead(identity)
	if err != nil {
		slog.Error("Server.listMessagesHandler: failed to load lead", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load lead"))
		return
	}
	if lead == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	messages, err := s.st.ListMessages(identity, 0)
	if err != nil {
		slog.Error("Server.listMessagesHandler: failed to list messages", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

func (s *Server) listOverridesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.sequencer.Overrides().List()))
}

func (s *Server) takeoverHandler(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	slog.Debug("Server.takeoverHandler: processing request", "identity", identity)
	err := s.sequencer.Takeover(context.Background(), s.sequencer.Notifier().Operator(), identity)
	switch {
	case errors.Is(err, models.ErrLeadNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
	case errors.Is(err, models.ErrUnauthorized):
		writeJSONResponse(w, http.StatusForbidden, models.Error("No operator configured"))
	case err != nil:
		slog.Error("Server.takeoverHandler: takeover failed", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Takeover failed"))
	default:
		slog.Info("Server.takeoverHandler: takeover active", "identity", identity)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Takeover active", nil))
	}
}

func (s *Server) releaseHandler(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	slog.Debug("Server.releaseHandler: processing request", "identity", identity)
	if err := s.sequencer.Release(s.sequencer.Notifier().Operator(), identity); err != nil {
		writeJSONResponse(w, http.StatusForbidden, models.Error("No operator configured"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Released", nil))
}

// relayRequest is the body of POST /relay.
type relayRequest struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

func (s *Server) relayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.relayHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Identity == "" || req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("identity and text are required"))
		return
	}

	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Identity)
	if err != nil {
		slog.Warn("Server.relayHandler: recipient validation failed", "error", err, "identity", req.Identity)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.sequencer.Relay(context.Background(), canonical, req.Text); err != nil {
		if errors.Is(err, models.ErrLeadNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}
		slog.Error("Server.relayHandler: relay failed", "error", err, "identity", canonical)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to deliver message"))
		return
	}
	slog.Info("Server.relayHandler: message relayed", "identity", canonical)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message delivered", nil))
}
