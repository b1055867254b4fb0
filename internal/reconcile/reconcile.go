// Package reconcile closes the loop the markers alone cannot: failed
// trigger folders never reach the Merger, so their documents would keep a
// case's counters unbalanced forever. The reconciler recomputes each
// case's unprocessed count from the markers, settles cases whose counters
// balance, and disables its own schedule once no active case remains.
package reconcile

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/keys"
	"github.com/docviewer/docpdf-pipeline/internal/ledger"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
)

// RuleDisabler turns the reconciler's own schedule rule off. The
// preprocessing endpoint re-enables it when new work arrives.
type RuleDisabler interface {
	DisableRule(ctx context.Context, name string) error
}

// EventBridgeRules adapts the EventBridge client to RuleDisabler.
type EventBridgeRules struct {
	Client *eventbridge.Client
}

func (r EventBridgeRules) DisableRule(ctx context.Context, name string) error {
	_, err := r.Client.DisableRule(ctx, &eventbridge.DisableRuleInput{Name: aws.String(name)})
	return err
}

// EnableRule turns the schedule back on. Called by the preprocessing
// endpoint when a new case or document arrives.
func (r EventBridgeRules) EnableRule(ctx context.Context, name string) error {
	_, err := r.Client.EnableRule(ctx, &eventbridge.EnableRuleInput{Name: aws.String(name)})
	return err
}

// Config carries the reconciler's wiring.
type Config struct {
	MainBucket string
	// RuleName is the schedule rule to disable when the ledger drains.
	RuleName string
}

// Reconciler sweeps the active cases once per scheduled invocation.
type Reconciler struct {
	store  objstore.Store
	ledger ledger.Ledger
	rules  RuleDisabler
	cfg    Config
}

// New creates a Reconciler.
func New(store objstore.Store, ldg ledger.Ledger, rules RuleDisabler, cfg Config) *Reconciler {
	return &Reconciler{store: store, ledger: ldg, rules: rules, cfg: cfg}
}

// Run performs one reconciliation sweep: refresh every active case's
// unprocessed count, settle the cases whose counters balance, and
// self-quiesce when nothing is left. A failure on one case is logged and
// the sweep continues; the next scheduled run retries it.
func (r *Reconciler) Run(ctx context.Context) error {
	cases, err := r.ledger.Cases(ctx)
	if err != nil {
		return fmt.Errorf("list active cases: %w", err)
	}
	for _, caseID := range cases {
		if err := r.refreshUnprocessed(ctx, caseID); err != nil {
			log.Error().Err(err).Str("caseId", caseID).Msg("Unprocessed recount failed")
		}
	}

	resolved, err := r.ledger.ResolvedCases(ctx)
	if err != nil {
		return fmt.Errorf("list resolved cases: %w", err)
	}
	for _, row := range resolved {
		if err := r.settle(ctx, row); err != nil {
			log.Error().Err(err).Str("caseId", row.CaseID).Msg("Case settlement failed")
		}
	}

	empty, err := r.ledger.Empty(ctx)
	if err != nil {
		return fmt.Errorf("check ledger empty: %w", err)
	}
	if empty && r.cfg.RuleName != "" {
		if err := r.rules.DisableRule(ctx, r.cfg.RuleName); err != nil {
			return fmt.Errorf("disable rule %s: %w", r.cfg.RuleName, err)
		}
		log.Info().Str("rule", r.cfg.RuleName).Msg("Ledger drained, schedule disabled")
	}
	return nil
}

// refreshUnprocessed recounts the distinct documents with unprocessed
// markers and stores the absolute count. A document with several failed
// trigger folders still counts as one unresolved unit.
func (r *Reconciler) refreshUnprocessed(ctx context.Context, caseID string) error {
	markers, err := r.store.List(ctx, r.cfg.MainBucket, keys.UnprocessedPrefix(caseID))
	if err != nil {
		return fmt.Errorf("list unprocessed markers: %w", err)
	}
	n := keys.DistinctDocuments(markers)
	if err := r.ledger.SetUnprocessedCount(ctx, caseID, n); err != nil {
		return fmt.Errorf("set unprocessed count: %w", err)
	}
	log.Debug().Str("caseId", caseID).Int("unprocessedDocuments", n).Msg("Unprocessed count refreshed")
	return nil
}

// settle archives a balanced case, removes its active row, and writes the
// terminal run marker. COMPLETED means every unit merged successfully;
// any unmerged or unprocessed unit makes the run INCOMPLETE.
func (r *Reconciler) settle(ctx context.Context, row ledger.Row) error {
	if err := r.ledger.Archive(ctx, row.CaseID); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := r.ledger.Delete(ctx, row.CaseID); err != nil {
		return fmt.Errorf("delete active row: %w", err)
	}

	marker := keys.IncompleteKey(row.CaseID)
	if row.Complete() {
		marker = keys.CompletedKey(row.CaseID)
	}
	if err := r.store.PutMarker(ctx, r.cfg.MainBucket, marker); err != nil {
		return fmt.Errorf("put terminal marker %s: %w", marker, err)
	}
	log.Info().
		Str("caseId", row.CaseID).
		Int("total", row.Total).
		Int("processed", row.Processed).
		Int("unmerged", row.Unmerged).
		Int("unprocessed", row.Unprocessed).
		Str("marker", marker).
		Msg("Case settled")
	return nil
}
