package api

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

// RegisterKeyPayload carries an approver's hex-encoded Ed25519 public key.
type RegisterKeyPayload struct {
	ApproverID string `json:"approver_id"`
	PublicKey  string `json:"public_key"`
}

// RevokeKeyPayload names the approver whose key should be removed.
type RevokeKeyPayload struct {
	ApproverID string `json:"approver_id"`
}

// handleRegisterApproverKey registers a verification key for an approver.
// Decisions signed before registration fail verification; there is no grace
// window.
func (s *Server) handleRegisterApproverKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var payload RegisterKeyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	payload.ApproverID = strings.TrimSpace(payload.ApproverID)
	if payload.ApproverID == "" {
		WriteBadRequest(w, "Missing required field: approver_id")
		return
	}
	pub, err := hex.DecodeString(strings.TrimSpace(payload.PublicKey))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		WriteBadRequest(w, "public_key must be a 64-character hex-encoded Ed25519 public key")
		return
	}

	s.keys.AddKey(payload.ApproverID, pub)
	s.logger.Info("approver key registered", "approver_id", payload.ApproverID)

	writeJSON(w, http.StatusCreated, map[string]string{
		"status":      "registered",
		"approver_id": payload.ApproverID,
	})
}

// handleRevokeApproverKey removes an approver's verification key. Revocation
// takes effect on the next decision; already-accepted decisions stand.
func (s *Server) handleRevokeApproverKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var payload RevokeKeyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	payload.ApproverID = strings.TrimSpace(payload.ApproverID)
	if payload.ApproverID == "" {
		WriteBadRequest(w, "Missing required field: approver_id")
		return
	}

	s.keys.RemoveKey(payload.ApproverID)
	s.logger.Info("approver key revoked", "approver_id", payload.ApproverID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "revoked",
		"approver_id": payload.ApproverID,
	})
}
