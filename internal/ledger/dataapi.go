package ledger

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/retry"
)

// rdsDataAPI is the subset of the RDS Data API client used by DataAPILedger.
type rdsDataAPI interface {
	ExecuteStatement(ctx context.Context, params *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
}

// DataAPILedger implements Ledger over the Aurora Data API, so the Lambdas
// carry no SQL driver or connection pool across invocations.
type DataAPILedger struct {
	client     rdsDataAPI
	clusterARN string
	secretARN  string
	database   string
}

// NewDataAPILedger creates a ledger client for the given cluster and database.
func NewDataAPILedger(client *rdsdata.Client, clusterARN, secretARN, database string) *DataAPILedger {
	return &DataAPILedger{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
	}
}

func caseParam(caseID string) rdsdatatypes.SqlParameter {
	return rdsdatatypes.SqlParameter{
		Name:  aws.String("case_id"),
		Value: &rdsdatatypes.FieldMemberStringValue{Value: caseID},
	}
}

func intParam(name string, v int) rdsdatatypes.SqlParameter {
	return rdsdatatypes.SqlParameter{
		Name:  aws.String(name),
		Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(v)},
	}
}

// exec runs one statement under the storage retry schedule. Counter updates
// that get dropped on a transient throttle would unbalance a case forever,
// so ledger calls retry the same way the S3 marker writes do.
func (l *DataAPILedger) exec(ctx context.Context, sql string, params []rdsdatatypes.SqlParameter) (*rdsdata.ExecuteStatementOutput, error) {
	var out *rdsdata.ExecuteStatementOutput
	err := retry.Do(ctx, "ledger statement", func() error {
		var execErr error
		out, execErr = l.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
			ResourceArn: aws.String(l.clusterARN),
			SecretArn:   aws.String(l.secretARN),
			Database:    aws.String(l.database),
			Sql:         aws.String(sql),
			Parameters:  params,
		})
		return execErr
	})
	return out, err
}

func (l *DataAPILedger) RegisterCase(ctx context.Context, caseID string, total int) error {
	sql := `INSERT INTO jobexecution
		(case_id, total_control_files, processed_control_files, unmerged_control_files, unprocessed_files_from_main, last_update_datetime)
		VALUES (:case_id, :total, 0, 0, 0, NOW())
		ON DUPLICATE KEY UPDATE total_control_files = :total, last_update_datetime = NOW()`
	if _, err := l.exec(ctx, sql, []rdsdatatypes.SqlParameter{caseParam(caseID), intParam("total", total)}); err != nil {
		return fmt.Errorf("RegisterCase %s: %w", caseID, err)
	}
	log.Debug().Str("caseId", caseID).Int("total", total).Msg("Case registered in ledger")
	return nil
}

func (l *DataAPILedger) EnsureCase(ctx context.Context, caseID string, total int) error {
	sql := `INSERT INTO jobexecution
		(case_id, total_control_files, processed_control_files, unmerged_control_files, unprocessed_files_from_main, last_update_datetime)
		VALUES (:case_id, :total, 0, 0, 0, NOW())
		ON DUPLICATE KEY UPDATE last_update_datetime = NOW()`
	if _, err := l.exec(ctx, sql, []rdsdatatypes.SqlParameter{caseParam(caseID), intParam("total", total)}); err != nil {
		return fmt.Errorf("EnsureCase %s: %w", caseID, err)
	}
	return nil
}

func (l *DataAPILedger) IncrementProcessed(ctx context.Context, caseID string) error {
	sql := `UPDATE jobexecution
		SET processed_control_files = processed_control_files + 1, last_update_datetime = NOW()
		WHERE case_id = :case_id`
	if _, err := l.exec(ctx, sql, []rdsdatatypes.SqlParameter{caseParam(caseID)}); err != nil {
		return fmt.Errorf("IncrementProcessed %s: %w", caseID, err)
	}
	return nil
}

func (l *DataAPILedger) IncrementUnmerged(ctx context.Context, caseID string) error {
	sql := `UPDATE jobexecution
		SET unmerged_control_files = unmerged_control_files + 1, last_update_datetime = NOW()
		WHERE case_id = :case_id`
	if _, err := l.exec(ctx, sql, []rdsdatatypes.SqlParameter{caseParam(caseID)}); err != nil {
		return fmt.Errorf("IncrementUnmerged %s: %w", caseID, err)
	}
	return nil
}

func (l *DataAPILedger) SetUnprocessedCount(ctx context.Context, caseID string, n int) error {
	sql := `UPDATE jobexecution
		SET unprocessed_files_from_main = :n, last_update_datetime = NOW()
		WHERE case_id = :case_id`
	if _, err := l.exec(ctx, sql, []rdsdatatypes.SqlParameter{caseParam(caseID), intParam("n", n)}); err != nil {
		return fmt.Errorf("SetUnprocessedCount %s: %w", caseID, err)
	}
	return nil
}

func (l *DataAPILedger) Cases(ctx context.Context) ([]string, error) {
	out, err := l.exec(ctx, `SELECT case_id FROM jobexecution`, nil)
	if err != nil {
		return nil, fmt.Errorf("Cases: %w", err)
	}
	var cases []string
	for _, rec := range out.Records {
		if len(rec) > 0 {
			cases = append(cases, fieldString(rec[0]))
		}
	}
	return cases, nil
}

func (l *DataAPILedger) ResolvedCases(ctx context.Context) ([]Row, error) {
	sql := `SELECT case_id, total_control_files, processed_control_files, unmerged_control_files, unprocessed_files_from_main
		FROM jobexecution
		WHERE total_control_files = processed_control_files + unmerged_control_files + unprocessed_files_from_main`
	out, err := l.exec(ctx, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("ResolvedCases: %w", err)
	}
	rows := make([]Row, 0, len(out.Records))
	for _, rec := range out.Records {
		if len(rec) < 5 {
			continue
		}
		rows = append(rows, Row{
			CaseID:      fieldString(rec[0]),
			Total:       fieldInt(rec[1]),
			Processed:   fieldInt(rec[2]),
			Unmerged:    fieldInt(rec[3]),
			Unprocessed: fieldInt(rec[4]),
		})
	}
	return rows, nil
}

func (l *DataAPILedger) Archive(ctx context.Context, caseID string) error {
	sql := `INSERT INTO jobexecution_history SELECT * FROM jobexecution WHERE case_id = :case_id`
	if _, err := l.exec(ctx, sql, []rdsdatatypes.SqlParameter{caseParam(caseID)}); err != nil {
		return fmt.Errorf("Archive %s: %w", caseID, err)
	}
	log.Debug().Str("caseId", caseID).Msg("Case archived to jobexecution_history")
	return nil
}

func (l *DataAPILedger) Delete(ctx context.Context, caseID string) error {
	sql := `DELETE FROM jobexecution WHERE case_id = :case_id`
	if _, err := l.exec(ctx, sql, []rdsdatatypes.SqlParameter{caseParam(caseID)}); err != nil {
		return fmt.Errorf("Delete %s: %w", caseID, err)
	}
	return nil
}

func (l *DataAPILedger) Empty(ctx context.Context) (bool, error) {
	out, err := l.exec(ctx, `SELECT EXISTS (SELECT 1 FROM jobexecution)`, nil)
	if err != nil {
		return false, fmt.Errorf("Empty: %w", err)
	}
	if len(out.Records) == 0 || len(out.Records[0]) == 0 {
		return false, fmt.Errorf("Empty: no result row")
	}
	return fieldInt(out.Records[0][0]) == 0, nil
}

func fieldString(f rdsdatatypes.Field) string {
	if v, ok := f.(*rdsdatatypes.FieldMemberStringValue); ok {
		return v.Value
	}
	return ""
}

func fieldInt(f rdsdatatypes.Field) int {
	switch v := f.(type) {
	case *rdsdatatypes.FieldMemberLongValue:
		return int(v.Value)
	case *rdsdatatypes.FieldMemberBooleanValue:
		if v.Value {
			return 1
		}
	}
	return 0
}
