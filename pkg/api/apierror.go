// Package api exposes the escrow over HTTP with RFC 7807 Problem Detail
// error responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/covenant-labs/covenant/pkg/commitment"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://covenant-labs.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteDomainError maps the ledger/engine error taxonomy to HTTP statuses.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, commitment.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, commitment.ErrUnauthorized):
		WriteError(w, r, http.StatusForbidden, "Unauthorized", err.Error())
	case errors.Is(err, commitment.ErrAlreadySettled):
		WriteError(w, r, http.StatusConflict, "Already Settled", err.Error())
	case errors.Is(err, commitment.ErrNotExpired):
		WriteError(w, r, http.StatusConflict, "Not Expired", err.Error())
	case errors.Is(err, commitment.ErrInvalidRules),
		errors.Is(err, commitment.ErrInvalidAmount):
		WriteError(w, r, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, commitment.ErrInsufficientBalance),
		errors.Is(err, commitment.ErrTransferFailed):
		WriteError(w, r, http.StatusUnprocessableEntity, "Transfer Rejected", err.Error())
	default:
		WriteError(w, r, http.StatusInternalServerError, "Internal Error", err.Error())
	}
}
