package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/covenant-labs/covenant/pkg/attestation"
	"github.com/covenant-labs/covenant/pkg/commitment"
	"github.com/covenant-labs/covenant/pkg/config"
)

// Server wires the commitment ledger and the attestation engine into a JSON
// HTTP surface.
type Server struct {
	ledger  *commitment.Ledger
	engine  *attestation.Engine
	presets map[string]config.RulePreset
	logger  *slog.Logger
}

func NewServer(ledger *commitment.Ledger, engine *attestation.Engine, presets map[string]config.RulePreset, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ledger: ledger, engine: engine, presets: presets, logger: logger}
}

// Routes builds the route table. Callers wrap it with Authenticate and
// RateLimit middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("POST /v1/commitments", s.handleCreate)
	mux.HandleFunc("GET /v1/commitments/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/commitments/{id}/violations", s.handleViolations)
	mux.HandleFunc("POST /v1/commitments/{id}/settle", s.handleSettle)
	mux.HandleFunc("POST /v1/commitments/{id}/exit", s.handleEarlyExit)
	mux.HandleFunc("POST /v1/commitments/{id}/allocate", s.handleAllocate)
	mux.HandleFunc("POST /v1/commitments/{id}/value", s.handleUpdateValue)

	mux.HandleFunc("POST /v1/commitments/{id}/attestations", s.handleAttest)
	mux.HandleFunc("GET /v1/commitments/{id}/attestations", s.handleAttestations)
	mux.HandleFunc("POST /v1/commitments/{id}/fees", s.handleRecordFees)
	mux.HandleFunc("POST /v1/commitments/{id}/drawdown", s.handleRecordDrawdown)
	mux.HandleFunc("GET /v1/commitments/{id}/score", s.handleScore)
	mux.HandleFunc("GET /v1/commitments/{id}/compliance", s.handleCompliance)
	mux.HandleFunc("GET /v1/commitments/{id}/health", s.handleMetrics)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type createRequest struct {
	Owner        string            `json:"owner"`
	Amount       int64             `json:"amount"`
	AssetAddress string            `json:"asset_address"`
	Rules        *commitment.Rules `json:"rules,omitempty"`
	// CommitmentType selects a configured preset when Rules is omitted.
	CommitmentType string `json:"commitment_type,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	rules := commitment.Rules{}
	switch {
	case req.Rules != nil:
		rules = *req.Rules
	case req.CommitmentType != "":
		preset, ok := s.presets[req.CommitmentType]
		if !ok {
			WriteError(w, r, http.StatusBadRequest, "Invalid Request", "unknown commitment_type preset")
			return
		}
		rules = preset.Rules()
	default:
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", "rules or commitment_type required")
		return
	}

	id, err := s.ledger.Create(r.Context(), req.Owner, req.Amount, req.AssetAddress, rules)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.logger.Info("commitment created", "commitment_id", id, "owner", req.Owner, "amount", req.Amount)
	writeJSON(w, http.StatusCreated, map[string]string{"commitment_id": id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	d, err := s.ledger.ViolationDetails(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ledger.Settle(r.Context(), id); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.logger.Info("commitment settled", "commitment_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(commitment.StatusSettled)})
}

func (s *Server) handleEarlyExit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	id := r.PathValue("id")
	if err := s.ledger.EarlyExit(r.Context(), id, req.Caller); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.logger.Info("commitment exited early", "commitment_id", id, "caller", req.Caller)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(commitment.StatusEarlyExit)})
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetPool string `json:"target_pool"`
		Amount     int64  `json:"amount"`
		Caller     string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := s.ledger.Allocate(r.Context(), r.PathValue("id"), req.TargetPool, req.Amount, req.Caller); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "allocated"})
}

func (s *Server) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewValue int64  `json:"new_value"`
		Caller   string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := s.ledger.UpdateValue(r.Context(), r.PathValue("id"), req.NewValue, req.Caller); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AttestationType string            `json:"attestation_type"`
		Data            map[string]string `json:"data"`
		VerifiedBy      string            `json:"verified_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := s.engine.Attest(r.Context(), r.PathValue("id"), req.AttestationType, req.Data, req.VerifiedBy); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleAttestations(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.Attestations(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecordFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := s.engine.RecordFees(r.Context(), req.Caller, r.PathValue("id"), req.Amount); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleRecordDrawdown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string `json:"caller"`
		CurrentValue int64  `json:"current_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	drawdown, err := s.engine.RecordDrawdown(r.Context(), req.Caller, r.PathValue("id"), req.CurrentValue)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"drawdown_percent": drawdown})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.engine.ComplianceScore(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"compliance_score": score})
}

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	compliant, err := s.engine.VerifyCompliance(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"compliant": compliant})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Metrics(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
