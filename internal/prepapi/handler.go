// Package prepapi implements the HTTP surface of the preprocessing
// Lambda. External systems POST a partition request when a case or a
// single document is ready for conversion; the handler fans the work out
// through the partitioner, seeds the job ledger, and re-enables the
// reconciler's schedule.
package prepapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/ledger"
	"github.com/docviewer/docpdf-pipeline/internal/metrics"
	"github.com/docviewer/docpdf-pipeline/internal/partition"
)

// Processing types accepted in requests.
const (
	CaseLevel = "case_level"
	DocLevel  = "doc_level"
)

// Partitioner is the partitioning surface the handler drives.
type Partitioner interface {
	PartitionCase(ctx context.Context, caseID string) ([]partition.DocumentResult, error)
	PartitionDocument(ctx context.Context, caseID, document string) (partition.DocumentResult, error)
}

// RuleEnabler re-enables the reconciler's schedule rule.
type RuleEnabler interface {
	EnableRule(ctx context.Context, name string) error
}

// Request is the partition request body.
type Request struct {
	ProcessingType string `json:"processing_type"`
	S3Folder       string `json:"s3_folder"`
	// S3DocumentFolder names the single document for doc_level requests.
	S3DocumentFolder string `json:"s3_document_folder,omitempty"`
}

// Response mirrors the proxy-style envelope callers already consume.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Handler serves partition requests.
type Handler struct {
	partitioner Partitioner
	ledger      ledger.Ledger
	rules       RuleEnabler
	ruleName    string
}

// NewHandler wires the preprocessing endpoint. rules may be nil when no
// schedule rule is configured.
func NewHandler(p Partitioner, ldg ledger.Ledger, rules RuleEnabler, ruleName string) *Handler {
	return &Handler{partitioner: p, ledger: ldg, rules: rules, ruleName: ruleName}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeResponse(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	requestID := uuid.NewString()
	lg := log.With().Str("requestId", requestID).Logger()
	start := time.Now()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		lg.Warn().Err(err).Msg("Malformed partition request")
		writeResponse(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.S3Folder == "" {
		writeResponse(w, http.StatusBadRequest, "s3_folder is required")
		return
	}

	ctx := r.Context()
	caseID := req.S3Folder
	lg = lg.With().Str("caseId", caseID).Str("processingType", req.ProcessingType).Logger()

	var units int
	switch req.ProcessingType {
	case CaseLevel:
		results, err := h.partitioner.PartitionCase(ctx, caseID)
		if err != nil {
			lg.Error().Err(err).Msg("Case partition failed")
			writeResponse(w, http.StatusInternalServerError, "partitioning failed")
			return
		}
		// The case's unit total is authoritative only here: doc_level
		// requests never shrink or grow a known case.
		if err := h.ledger.RegisterCase(ctx, caseID, len(results)); err != nil {
			lg.Error().Err(err).Msg("Ledger registration failed")
			writeResponse(w, http.StatusInternalServerError, "ledger registration failed")
			return
		}
		units = len(results)

	case DocLevel:
		if req.S3DocumentFolder == "" {
			writeResponse(w, http.StatusBadRequest, "s3_document_folder is required for doc_level")
			return
		}
		if _, err := h.partitioner.PartitionDocument(ctx, caseID, req.S3DocumentFolder); err != nil {
			if errors.Is(err, partition.ErrEmptyDocument) {
				lg.Warn().Str("document", req.S3DocumentFolder).Msg("Refusing to partition an empty document folder")
				writeResponse(w, http.StatusBadRequest, "document folder is empty")
				return
			}
			lg.Error().Err(err).Str("document", req.S3DocumentFolder).Msg("Document partition failed")
			writeResponse(w, http.StatusInternalServerError, "partitioning failed")
			return
		}
		if err := h.ledger.EnsureCase(ctx, caseID, 1); err != nil {
			lg.Error().Err(err).Msg("Ledger ensure failed")
			writeResponse(w, http.StatusInternalServerError, "ledger registration failed")
			return
		}
		units = 1

	default:
		writeResponse(w, http.StatusBadRequest, "processing_type must be case_level or doc_level")
		return
	}

	if h.rules != nil && h.ruleName != "" {
		if err := h.rules.EnableRule(ctx, h.ruleName); err != nil {
			// The reconciler rule may already be enabled; work is queued
			// either way, so this is not a request failure.
			lg.Warn().Err(err).Str("rule", h.ruleName).Msg("Could not enable reconciler rule")
		}
	}

	lg.Info().Int("units", units).Dur("duration", time.Since(start)).Msg("Partition request complete")
	metrics.ForCase("partition", caseID).
		Count("PartitionedUnits", units).
		Duration("PartitionDurationMs", time.Since(start)).
		Property("requestId", requestID).
		Property("processingType", req.ProcessingType).
		Flush()

	writeResponse(w, http.StatusOK, "partitioned")
}

func writeResponse(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{StatusCode: status, Body: body})
}
