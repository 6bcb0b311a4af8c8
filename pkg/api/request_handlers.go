package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/approval"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// CreateRequestPayload is the body of POST /api/v1/requests.
type CreateRequestPayload struct {
	ActionType        string         `json:"action_type"`
	AssetID           string         `json:"asset_id"`
	Content           map[string]any `json:"content"`
	Metadata          map[string]any `json:"metadata"`
	RequiredApprovers []string       `json:"required_approvers"`
}

// DecisionPayload is the body of POST /api/v1/requests/{id}/decisions.
// Timestamp travels with the signature because both are part of the signed
// decision tuple.
type DecisionPayload struct {
	ApproverID    string    `json:"approver_id"`
	Verdict       string    `json:"verdict"`
	Justification string    `json:"justification,omitempty"`
	Signature     string    `json:"signature"`
	Timestamp     time.Time `json:"timestamp"`
}

// RequestResponse is an approval request plus its attestation delivery state.
type RequestResponse struct {
	*contracts.ApprovalRequest
	AttestationPending bool `json:"attestation_pending"`
}

// handleRequests serves /api/v1/requests: POST creates, GET lists pending.
func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRequest(w, r)
	case http.MethodGet:
		s.handleListPending(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var payload CreateRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if payload.ActionType == "" || len(payload.RequiredApprovers) == 0 {
		WriteBadRequest(w, "Missing required fields: action_type, required_approvers")
		return
	}

	req, err := s.coordinator.CreateRequest(r.Context(), approval.CreateParams{
		ActionType:        contracts.ActionType(payload.ActionType),
		AssetID:           payload.AssetID,
		Content:           payload.Content,
		Metadata:          payload.Metadata,
		RequiredApprovers: payload.RequiredApprovers,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	s.logger.Info("approval request created",
		"request_id", req.RequestID,
		"action_type", req.ActionType,
		"min_approvals", req.MinApprovals)
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.coordinator.ListPending(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": pending,
		"count":    len(pending),
	})
}

// handleRequestRouter routes /api/v1/requests/{id} and
// /api/v1/requests/{id}/decisions.
func (s *Server) handleRequestRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/requests/")
	path = strings.TrimSuffix(path, "/")

	switch {
	case path == "":
		WriteNotFound(w, "Missing request id")
	case strings.HasSuffix(path, "/decisions"):
		requestID := strings.TrimSuffix(path, "/decisions")
		s.handleSubmitDecision(w, r, requestID)
	case strings.Contains(path, "/"):
		WriteNotFound(w, "Unknown requests endpoint")
	default:
		s.handleGetRequest(w, r, path)
	}
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	view, err := s.coordinator.GetStatus(r.Context(), requestID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestResponse{
		ApprovalRequest:    view.Request,
		AttestationPending: view.AttestationPending,
	})
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request, requestID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var payload DecisionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if payload.ApproverID == "" || payload.Signature == "" {
		WriteBadRequest(w, "Missing required fields: approver_id, signature")
		return
	}
	verdict := contracts.DecisionVerdict(strings.ToUpper(payload.Verdict))
	if verdict != contracts.VerdictApprove && verdict != contracts.VerdictReject {
		WriteBadRequest(w, "Verdict must be APPROVE or REJECT")
		return
	}

	req, err := s.coordinator.SubmitDecision(r.Context(), requestID, approval.SubmitParams{
		ApproverID:    payload.ApproverID,
		Verdict:       verdict,
		Justification: payload.Justification,
		Signature:     payload.Signature,
		Timestamp:     payload.Timestamp,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	s.logger.Info("decision recorded",
		"request_id", requestID,
		"approver_id", payload.ApproverID,
		"verdict", verdict,
		"status", req.Status)
	writeJSON(w, http.StatusOK, req)
}
