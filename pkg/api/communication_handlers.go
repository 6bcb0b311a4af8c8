package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/gate"
)

// CommunicationPayload is the body of POST /api/v1/communications.
type CommunicationPayload struct {
	AgentID           string         `json:"agent_id"`
	Recipient         string         `json:"recipient"`
	Channel           string         `json:"channel"`
	Content           map[string]any `json:"content"`
	Metadata          map[string]any `json:"metadata"`
	RequiredApprovers []string       `json:"required_approvers"`
}

// handleSubmitCommunication opens the approval workflow for an outbound
// communication. The action itself runs only via the execute endpoint once
// the request is approved.
func (s *Server) handleSubmitCommunication(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var payload CommunicationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if payload.AgentID == "" || payload.Recipient == "" || payload.Channel == "" {
		WriteBadRequest(w, "Missing required fields: agent_id, recipient, channel")
		return
	}
	if len(payload.RequiredApprovers) == 0 {
		WriteBadRequest(w, "Missing required fields: required_approvers")
		return
	}

	action := communicationAction{
		spec: gate.ActionSpec{
			AgentID:           payload.AgentID,
			Recipient:         payload.Recipient,
			Channel:           payload.Channel,
			Content:           payload.Content,
			Metadata:          payload.Metadata,
			RequiredApprovers: payload.RequiredApprovers,
		},
		deliver: s.deliver,
	}

	sub, err := s.gate.Submit(r.Context(), action)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	s.logger.Info("communication submitted",
		"pending_id", sub.PendingID,
		"request_id", sub.RequestID,
		"review_required", sub.Review.Required)
	writeJSON(w, http.StatusAccepted, sub)
}

// handleCommunicationRouter routes /api/v1/communications/{id}/execute.
func (s *Server) handleCommunicationRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/communications/")
	path = strings.TrimSuffix(path, "/")

	if !strings.HasSuffix(path, "/execute") {
		WriteNotFound(w, "Unknown communications endpoint")
		return
	}
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	pendingID := strings.TrimSuffix(path, "/execute")
	receipt, err := s.gate.Execute(r.Context(), pendingID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	s.logger.Info("communication executed",
		"pending_id", receipt.PendingID,
		"request_id", receipt.RequestID,
		"record_token", receipt.RecordTokenID)
	writeJSON(w, http.StatusOK, receipt)
}
