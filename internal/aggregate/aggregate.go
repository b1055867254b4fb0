// Package aggregate decides when a document folder's fan-out has fully
// converged. It runs synchronously at the tail of every worker invocation
// and recomputes the success count from scratch against the expected
// count recorded by the partitioner — object storage has no atomic
// increment, and recount-and-compare needs no lock. Worker completions
// arrive in no particular order; the decision is commutative over that
// order.
package aggregate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/keys"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
)

// Aggregator recounts completion markers and emits the merge trigger.
type Aggregator struct {
	store              objstore.Store
	metadataBucket     string
	mergeTriggerBucket string
}

// New creates an Aggregator over the metadata and merge-trigger buckets.
func New(store objstore.Store, metadataBucket, mergeTriggerBucket string) *Aggregator {
	return &Aggregator{
		store:              store,
		metadataBucket:     metadataBucket,
		mergeTriggerBucket: mergeTriggerBucket,
	}
}

// OnFolderComplete re-evaluates the document folder after one worker
// finished. When the success count reaches the expected trigger count it
// writes the merge trigger to the document's fixed control-file key.
// Multiple workers finishing near-simultaneously may each observe the
// full count and each write the trigger; the write is idempotent (always
// the same key) and the Merger's version guard collapses the duplicates,
// so no check-then-act is attempted here.
func (a *Aggregator) OnFolderComplete(ctx context.Context, folder keys.TriggerFolder) (bool, error) {
	prefix := folder.DocumentPrefix()
	objects, err := a.store.List(ctx, a.metadataBucket, prefix)
	if err != nil {
		return false, fmt.Errorf("list metadata %s: %w", prefix, err)
	}

	expected := -1
	successes := 0
	for _, key := range objects {
		if expected < 0 && keys.IsMetadataMarker(key, folder.Document) {
			if n, ok := keys.ExpectedCount(key); ok {
				expected = n
			}
			continue
		}
		if keys.IsSuccessMarker(key) {
			successes++
		}
	}
	if expected < 0 {
		return false, fmt.Errorf("no metadata marker under %s", prefix)
	}

	log.Info().
		Str("document", folder.Document).
		Int("expected", expected).
		Int("successes", successes).
		Msg("Completion recount")

	// expected is at least 1 for any partitioned document; the partitioner
	// refuses empty folders. A zero-count marker is stale and never converges.
	if expected == 0 || successes != expected {
		return false, nil
	}

	triggerKey := folder.ControlFileKey()
	if err := a.store.PutMarker(ctx, a.mergeTriggerBucket, triggerKey); err != nil {
		return false, fmt.Errorf("put merge trigger %s: %w", triggerKey, err)
	}
	log.Info().Str("mergeTrigger", triggerKey).Msg("All trigger folders succeeded, merge trigger placed")
	return true, nil
}
