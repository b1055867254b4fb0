package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
)

type fakeDataAPI struct {
	statements []rdsdata.ExecuteStatementInput
	records    [][]rdsdatatypes.Field
	failures   int
}

func (f *fakeDataAPI) ExecuteStatement(_ context.Context, params *rdsdata.ExecuteStatementInput, _ ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error) {
	f.statements = append(f.statements, *params)
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("throttled")
	}
	return &rdsdata.ExecuteStatementOutput{Records: f.records}, nil
}

func newFakeLedger(records [][]rdsdatatypes.Field) (*DataAPILedger, *fakeDataAPI) {
	api := &fakeDataAPI{records: records}
	l := &DataAPILedger{client: api, clusterARN: "cluster", secretARN: "secret", database: "docpdf"}
	return l, api
}

func lastSQL(t *testing.T, api *fakeDataAPI) string {
	t.Helper()
	if len(api.statements) == 0 {
		t.Fatal("no statement executed")
	}
	return aws.ToString(api.statements[len(api.statements)-1].Sql)
}

// Counter updates must be relative increments computed by the database,
// never absolute values read and written back by the client.
func TestIncrementsAreRelative(t *testing.T) {
	ctx := context.Background()

	l, api := newFakeLedger(nil)
	if err := l.IncrementProcessed(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	if sql := lastSQL(t, api); !strings.Contains(sql, "processed_control_files = processed_control_files + 1") {
		t.Errorf("IncrementProcessed SQL not relative: %s", sql)
	}

	if err := l.IncrementUnmerged(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	if sql := lastSQL(t, api); !strings.Contains(sql, "unmerged_control_files = unmerged_control_files + 1") {
		t.Errorf("IncrementUnmerged SQL not relative: %s", sql)
	}
}

func TestRegisterCaseUpsertsTotal(t *testing.T) {
	l, api := newFakeLedger(nil)
	if err := l.RegisterCase(context.Background(), "C1", 42); err != nil {
		t.Fatal(err)
	}
	sql := lastSQL(t, api)
	if !strings.Contains(sql, "ON DUPLICATE KEY UPDATE total_control_files = :total") {
		t.Errorf("RegisterCase must reset the total on duplicate: %s", sql)
	}

	params := api.statements[0].Parameters
	var haveCase, haveTotal bool
	for _, p := range params {
		switch aws.ToString(p.Name) {
		case "case_id":
			haveCase = true
		case "total":
			if v, ok := p.Value.(*rdsdatatypes.FieldMemberLongValue); ok && v.Value == 42 {
				haveTotal = true
			}
		}
	}
	if !haveCase || !haveTotal {
		t.Errorf("parameters incomplete: %+v", params)
	}
}

func TestEnsureCasePreservesExistingTotal(t *testing.T) {
	l, api := newFakeLedger(nil)
	if err := l.EnsureCase(context.Background(), "C1", 1); err != nil {
		t.Fatal(err)
	}
	sql := lastSQL(t, api)
	if strings.Contains(sql, "UPDATE total_control_files") ||
		strings.Contains(sql, "total_control_files = :total,") {
		t.Errorf("EnsureCase must not touch an existing total: %s", sql)
	}
}

func TestResolvedCasesParsesRows(t *testing.T) {
	l, _ := newFakeLedger([][]rdsdatatypes.Field{{
		&rdsdatatypes.FieldMemberStringValue{Value: "C1"},
		&rdsdatatypes.FieldMemberLongValue{Value: 3},
		&rdsdatatypes.FieldMemberLongValue{Value: 2},
		&rdsdatatypes.FieldMemberLongValue{Value: 0},
		&rdsdatatypes.FieldMemberLongValue{Value: 1},
	}})
	rows, err := l.ResolvedCases(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	want := Row{CaseID: "C1", Total: 3, Processed: 2, Unmerged: 0, Unprocessed: 1}
	if rows[0] != want {
		t.Errorf("row = %+v, want %+v", rows[0], want)
	}
	if !rows[0].Resolved() || rows[0].Complete() {
		t.Errorf("row %+v: Resolved/Complete misclassified", rows[0])
	}
}

// A transiently throttled statement must be retried, not dropped; a lost
// increment would leave the case counters unbalanced forever.
func TestStatementRetriesThroughTransientFailure(t *testing.T) {
	l, api := newFakeLedger(nil)
	api.failures = 1
	if err := l.IncrementProcessed(context.Background(), "C1"); err != nil {
		t.Fatalf("IncrementProcessed after one throttle: %v", err)
	}
	if len(api.statements) != 2 {
		t.Errorf("attempts = %d, want 2", len(api.statements))
	}
}

func TestEmpty(t *testing.T) {
	l, _ := newFakeLedger([][]rdsdatatypes.Field{{
		&rdsdatatypes.FieldMemberLongValue{Value: 0},
	}})
	empty, err := l.Empty(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("EXISTS=0 not reported as empty")
	}
}
