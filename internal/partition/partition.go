// Package partition discovers the document folders of a case and fans
// them out into independently processable trigger folders. For each
// document folder it records the expected trigger count in a metadata
// marker — the one durable record of the original cardinality, since the
// trigger bucket is consumed by workers and cannot be re-listed later —
// and writes one zero-byte trigger object per trigger folder.
//
// Partitioning is idempotent: re-running over an unchanged folder set
// overwrites the same metadata marker with the same content and re-puts
// the same trigger keys, which downstream consumers treat as no-ops.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/docviewer/docpdf-pipeline/internal/keys"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
)

// ErrEmptyDocument reports a document folder with no files. Such a folder
// is refused rather than partitioned: a zero-trigger document would seed a
// ledger unit no completion can ever settle.
var ErrEmptyDocument = errors.New("document folder has no files")

// caseConcurrency bounds the per-document fan-out of a case-level request;
// case-level requests may span thousands of document folders and listing
// dominates the cost.
const caseConcurrency = 8

// Partitioner lists a case's folders and places trigger and metadata
// markers.
type Partitioner struct {
	store          objstore.Store
	mainBucket     string
	metadataBucket string
	triggerBucket  string
	category       string
}

// New creates a Partitioner for the given buckets and category folder
// ("exhibits" or "wire").
func New(store objstore.Store, mainBucket, metadataBucket, triggerBucket, category string) *Partitioner {
	return &Partitioner{
		store:          store,
		mainBucket:     mainBucket,
		metadataBucket: metadataBucket,
		triggerBucket:  triggerBucket,
		category:       category,
	}
}

// DocumentResult reports one partitioned document folder.
type DocumentResult struct {
	Document     string
	TriggerCount int
}

// PartitionDocument partitions a single document folder: lists its files,
// derives the trigger folders (collapsing the combine-children suffix
// folder and truncating to document depth), writes the metadata marker
// encoding the expected count, then one trigger object per folder.
func (p *Partitioner) PartitionDocument(ctx context.Context, caseID, document string) (DocumentResult, error) {
	prefix := caseID + "/" + p.category + "/" + document + "/"
	files, err := p.store.List(ctx, p.mainBucket, prefix)
	if err != nil {
		return DocumentResult{}, fmt.Errorf("list %s: %w", prefix, err)
	}

	triggers := TriggerFolders(files)
	expected := len(triggers)
	if expected == 0 {
		return DocumentResult{}, fmt.Errorf("%s/%s: %w", caseID, document, ErrEmptyDocument)
	}

	metaKey := keys.MetadataMarkerKey(caseID, p.category, document, expected)
	if err := p.store.PutMarker(ctx, p.metadataBucket, metaKey); err != nil {
		return DocumentResult{}, fmt.Errorf("put metadata marker %s: %w", metaKey, err)
	}
	for _, t := range triggers {
		if err := p.store.PutMarker(ctx, p.triggerBucket, t); err != nil {
			return DocumentResult{}, fmt.Errorf("put trigger %s: %w", t, err)
		}
	}

	log.Info().
		Str("caseId", caseID).
		Str("document", document).
		Int("fileCount", len(files)).
		Int("triggerCount", expected).
		Msg("Document folder partitioned")
	return DocumentResult{Document: document, TriggerCount: expected}, nil
}

// PartitionCase lists the whole case under its category prefix, derives
// the document folders, and partitions each concurrently. A document
// folder whose partitioning fails is logged and skipped — a soft failure
// that must not sink the remaining thousands of folders.
func (p *Partitioner) PartitionCase(ctx context.Context, caseID string) ([]DocumentResult, error) {
	prefix := caseID + "/" + p.category
	files, err := p.store.List(ctx, p.mainBucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list case %s: %w", prefix, err)
	}

	documents := DocumentFolders(files)
	log.Info().Str("caseId", caseID).Int("documentCount", len(documents)).Msg("Case-level partition starting")

	var mu sync.Mutex
	var results []DocumentResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(caseConcurrency)
	for _, document := range documents {
		document := document
		g.Go(func() error {
			res, err := p.PartitionDocument(gctx, caseID, document)
			if err != nil {
				log.Error().Err(err).Str("caseId", caseID).Str("document", document).Msg("Document partition failed, skipping")
				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Document < results[j].Document })
	return results, nil
}

// TriggerFolders derives the sorted set of document-depth trigger folders
// from a file listing.
func TriggerFolders(files []string) []string {
	set := make(map[string]struct{})
	for _, f := range files {
		folder := keys.FolderOf(f)
		if docLevel, ok := keys.DocumentLevel(folder); ok {
			set[docLevel] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DocumentFolders derives the sorted set of document folder names
// (the third path segment) from a case-level file listing.
func DocumentFolders(files []string) []string {
	set := make(map[string]struct{})
	for _, f := range files {
		if t, err := keys.ParseTriggerFolder(keys.FolderOf(f)); err == nil {
			set[t.Document] = struct{}{}
			continue
		}
		// Deeper nesting still identifies a document by its third segment.
		if dl, ok := keys.DocumentLevel(keys.FolderOf(f)); ok {
			if t, err := keys.ParseTriggerFolder(dl); err == nil {
				set[t.Document] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
