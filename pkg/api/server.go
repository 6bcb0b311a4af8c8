package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/approval"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/crypto"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/gate"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/tokenledger"
)

// maxBodyBytes caps request bodies at 1MB.
const maxBodyBytes = 1 << 20

// Deliverer performs the outbound side effect of an approved communication.
// The server pairs every submitted communication with the configured
// deliverer; the gate only runs it after approval and claim acquisition.
type Deliverer interface {
	Deliver(ctx context.Context, spec gate.ActionSpec) (any, error)
}

// logDeliverer is the default deliverer: it records the dispatch instead of
// sending anything. Real channels (email, Slack, agent mesh) are injected at
// assembly time.
type logDeliverer struct {
	logger *slog.Logger
}

func (d *logDeliverer) Deliver(_ context.Context, spec gate.ActionSpec) (any, error) {
	d.logger.Info("communication dispatched",
		"agent_id", spec.AgentID,
		"recipient", spec.Recipient,
		"channel", spec.Channel)
	return map[string]any{
		"dispatched":    true,
		"channel":       spec.Channel,
		"dispatched_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// communicationAction adapts a spec plus the deliverer into a gate.Action.
type communicationAction struct {
	spec    gate.ActionSpec
	deliver Deliverer
}

func (a communicationAction) Describe() gate.ActionSpec { return a.spec }

func (a communicationAction) Run(ctx context.Context) (any, error) {
	return a.deliver.Deliver(ctx, a.spec)
}

// Server exposes the governance engine over HTTP.
type Server struct {
	coordinator *approval.Coordinator
	tokens      *tokenledger.Ledger
	gate        *gate.Gate
	deliver     Deliverer
	keys        *crypto.MemoryDirectory
	logger      *slog.Logger
}

// NewServer creates the HTTP surface over the given engine components.
func NewServer(coordinator *approval.Coordinator, tokens *tokenledger.Ledger, g *gate.Gate) *Server {
	logger := slog.Default().With("component", "api")
	return &Server{
		coordinator: coordinator,
		tokens:      tokens,
		gate:        g,
		deliver:     &logDeliverer{logger: logger},
		logger:      logger,
	}
}

// WithDeliverer replaces the default log-only deliverer.
func (s *Server) WithDeliverer(d Deliverer) *Server {
	s.deliver = d
	return s
}

// WithKeyRegistry enables the approver key admin endpoints backed by the
// given directory. Without it the endpoints are not registered and keys
// must be provisioned out of band.
func (s *Server) WithKeyRegistry(dir *crypto.MemoryDirectory) *Server {
	s.keys = dir
	return s
}

// Routes returns the route table. Auth and rate limiting wrap this mux at
// assembly time so tests can exercise handlers directly.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/requests", s.handleRequests)
	mux.HandleFunc("/api/v1/requests/", s.handleRequestRouter)

	mux.HandleFunc("/api/v1/tokens/", s.handleTokenRouter)

	mux.HandleFunc("/api/v1/communications", s.handleSubmitCommunication)
	mux.HandleFunc("/api/v1/communications/", s.handleCommunicationRouter)

	if s.keys != nil {
		mux.HandleFunc("/api/v1/approvers/keys", s.handleRegisterApproverKey)
		mux.HandleFunc("/api/v1/approvers/keys/revoke", s.handleRevokeApproverKey)
	}

	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
