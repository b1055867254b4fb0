package prepapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docviewer/docpdf-pipeline/internal/ledger"
	"github.com/docviewer/docpdf-pipeline/internal/partition"
)

type fakePartitioner struct {
	caseCalls []string
	docCalls  []string
	fail      bool
	empty     bool
}

func (f *fakePartitioner) PartitionCase(_ context.Context, caseID string) ([]partition.DocumentResult, error) {
	if f.fail {
		return nil, errors.New("listing failed")
	}
	f.caseCalls = append(f.caseCalls, caseID)
	return []partition.DocumentResult{
		{Document: "EX01", TriggerCount: 2},
		{Document: "EX02", TriggerCount: 1},
	}, nil
}

func (f *fakePartitioner) PartitionDocument(_ context.Context, caseID, document string) (partition.DocumentResult, error) {
	if f.fail {
		return partition.DocumentResult{}, errors.New("listing failed")
	}
	if f.empty {
		return partition.DocumentResult{}, partition.ErrEmptyDocument
	}
	f.docCalls = append(f.docCalls, caseID+"/"+document)
	return partition.DocumentResult{Document: document, TriggerCount: 1}, nil
}

type fakeEnabler struct {
	enabled []string
}

func (f *fakeEnabler) EnableRule(_ context.Context, name string) error {
	f.enabled = append(f.enabled, name)
	return nil
}

func post(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, resp
}

func TestCaseLevelRegistersTotal(t *testing.T) {
	p := &fakePartitioner{}
	ldg := ledger.NewMemLedger()
	rules := &fakeEnabler{}
	h := NewHandler(p, ldg, rules, "docpdf-reconciler")

	rec, resp := post(t, h, `{"processing_type":"case_level","s3_folder":"C1"}`)
	if rec.Code != http.StatusOK || resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d/%d, body %q", rec.Code, resp.StatusCode, resp.Body)
	}
	if len(p.caseCalls) != 1 || p.caseCalls[0] != "C1" {
		t.Errorf("caseCalls = %v", p.caseCalls)
	}
	row, ok := ldg.Snapshot("C1")
	if !ok || row.Total != 2 {
		t.Errorf("ledger row = %+v, want total=2 from partition results", row)
	}
	if len(rules.enabled) != 1 || rules.enabled[0] != "docpdf-reconciler" {
		t.Errorf("enabled rules = %v", rules.enabled)
	}
}

func TestDocLevelDoesNotOverrideKnownTotal(t *testing.T) {
	p := &fakePartitioner{}
	ldg := ledger.NewMemLedger()
	ldg.RegisterCase(context.Background(), "C1", 7)
	h := NewHandler(p, ldg, &fakeEnabler{}, "docpdf-reconciler")

	rec, _ := post(t, h, `{"processing_type":"doc_level","s3_folder":"C1","s3_document_folder":"EX05"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(p.docCalls) != 1 || p.docCalls[0] != "C1/EX05" {
		t.Errorf("docCalls = %v", p.docCalls)
	}
	row, _ := ldg.Snapshot("C1")
	if row.Total != 7 {
		t.Errorf("doc_level changed a known case total to %d", row.Total)
	}
}

func TestDocLevelSeedsUnknownCase(t *testing.T) {
	ldg := ledger.NewMemLedger()
	h := NewHandler(&fakePartitioner{}, ldg, &fakeEnabler{}, "r")

	post(t, h, `{"processing_type":"doc_level","s3_folder":"C9","s3_document_folder":"EX01"}`)
	row, ok := ldg.Snapshot("C9")
	if !ok || row.Total != 1 {
		t.Errorf("ledger row = %+v, want seeded with total=1", row)
	}
}

func TestValidation(t *testing.T) {
	h := NewHandler(&fakePartitioner{}, ledger.NewMemLedger(), &fakeEnabler{}, "r")

	tests := []struct {
		name string
		body string
	}{
		{"missing folder", `{"processing_type":"case_level"}`},
		{"unknown type", `{"processing_type":"folder_level","s3_folder":"C1"}`},
		{"doc_level without document", `{"processing_type":"doc_level","s3_folder":"C1"}`},
		{"malformed json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := post(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

// An empty document folder is a caller mistake, not a server fault, and
// must not seed a ledger row the pipeline can never settle.
func TestDocLevelEmptyDocumentIs400(t *testing.T) {
	ldg := ledger.NewMemLedger()
	h := NewHandler(&fakePartitioner{empty: true}, ldg, &fakeEnabler{}, "r")

	rec, _ := post(t, h, `{"processing_type":"doc_level","s3_folder":"C1","s3_document_folder":"EX01"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if _, ok := ldg.Snapshot("C1"); ok {
		t.Error("empty document seeded a ledger row")
	}
}

func TestPartitionFailureIs500(t *testing.T) {
	h := NewHandler(&fakePartitioner{fail: true}, ledger.NewMemLedger(), &fakeEnabler{}, "r")
	rec, _ := post(t, h, `{"processing_type":"case_level","s3_folder":"C1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakePartitioner{}, ledger.NewMemLedger(), &fakeEnabler{}, "r")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
