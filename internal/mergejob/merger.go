// Package mergejob assembles a document's converted PDFs into its merged
// exhibit outputs and settles the document's unit in the job ledger. Each
// merge-trigger object is handled at most once per version: duplicate
// aggregator writes to the fixed trigger key produce new versions, and
// only the invocation carrying the latest version proceeds.
package mergejob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/keys"
	"github.com/docviewer/docpdf-pipeline/internal/ledger"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
	"github.com/docviewer/docpdf-pipeline/internal/pdfmerge"
)

// Config carries the merger's bucket layout.
type Config struct {
	MainBucket         string
	MetadataBucket     string
	MergeTriggerBucket string

	// WritePath is the scratch root for downloaded page PDFs.
	WritePath string

	// PDFSuffix is appended to each merged output's role name.
	PDFSuffix string
}

// Merger settles one document per merge trigger.
type Merger struct {
	store  objstore.Store
	ledger ledger.Ledger
	merger *pdfmerge.Merger
	cfg    Config
}

// New creates a Merger. Zero-value fields in cfg are defaulted.
func New(store objstore.Store, ldg ledger.Ledger, pm *pdfmerge.Merger, cfg Config) *Merger {
	if cfg.WritePath == "" {
		cfg.WritePath = os.TempDir()
	}
	if cfg.PDFSuffix == "" {
		cfg.PDFSuffix = "_dv"
	}
	return &Merger{store: store, ledger: ldg, merger: pm, cfg: cfg}
}

// ControlFile is the per-document merge manifest, authored at ingest time
// and stored in the main bucket at the control-file key.
type ControlFile struct {
	// Type is the category folder the document lives under.
	Type string `json:"type"`
	// SubFolder is the exhibit id the merged outputs are grouped under.
	SubFolder string `json:"s3_sub_folder"`
	// Files lists the document's parts in presentation order. Each entry
	// carries one object key per rendition.
	Files []ControlEntry `json:"files"`
}

// ControlEntry is one part of a document: the object keys of the part's
// source and current renditions.
type ControlEntry struct {
	Source  string `json:"source"`
	Current string `json:"current"`
}

// renditions are the two merged outputs every document produces,
// source_dv.pdf and current_dv.pdf (modulo the configured suffix).
var renditions = [...]string{"source", "current"}

func (e ControlEntry) key(rendition string) string {
	if rendition == "source" {
		return e.Source
	}
	return e.Current
}

// HandleTrigger processes the merge-trigger object at triggerKey carrying
// eventVersionID. A stale version is a silent no-op. Whatever the merge
// outcome, the document's metadata prefix and the trigger object are
// cleaned up so reprocessing starts from a blank slate.
func (m *Merger) HandleTrigger(ctx context.Context, triggerKey, eventVersionID string) error {
	caseID, document, err := keys.DocumentOfControlFile(triggerKey)
	if err != nil {
		return err
	}
	lg := log.With().Str("caseId", caseID).Str("document", document).Logger()

	info, exists, err := m.store.Head(ctx, m.cfg.MergeTriggerBucket, triggerKey)
	if err != nil {
		return fmt.Errorf("head merge trigger %s: %w", triggerKey, err)
	}
	if !exists || info.VersionID != eventVersionID {
		lg.Info().Str("eventVersion", eventVersionID).Str("currentVersion", info.VersionID).
			Msg("Merge trigger superseded, skipping")
		return nil
	}

	data, err := m.store.Get(ctx, m.cfg.MainBucket, triggerKey)
	if err != nil {
		// Without the manifest there is nothing to merge and nothing to
		// retry; settle the unit as unmerged so the case can still resolve.
		lg.Error().Err(err).Msg("Control file unreadable")
		m.settleUnmerged(ctx, caseID, document)
		m.deleteTrigger(ctx, triggerKey)
		return nil
	}
	var cf ControlFile
	if err := json.Unmarshal(data, &cf); err != nil {
		lg.Error().Err(err).Msg("Control file malformed")
		m.settleUnmerged(ctx, caseID, document)
		m.deleteTrigger(ctx, triggerKey)
		return nil
	}

	if len(cf.Files) == 0 {
		lg.Warn().Msg("Control file lists no parts, cleaning up")
		m.cleanup(ctx, caseID, cf.Type, document, triggerKey)
		return nil
	}

	if err := m.mergeDocument(ctx, caseID, document, cf); err != nil {
		lg.Error().Err(err).Msg("Merge failed, recording unmerged")
		m.settleUnmerged(ctx, caseID, document)
	} else {
		if err := m.ledger.IncrementProcessed(ctx, caseID); err != nil {
			lg.Error().Err(err).Msg("Could not increment processed counter")
		}
		lg.Info().Int("parts", len(cf.Files)).Msg("Document merged")
	}

	m.cleanup(ctx, caseID, cf.Type, document, triggerKey)
	return nil
}

// mergeDocument downloads each rendition's parts in manifest order, merges
// them, and uploads one merged PDF per rendition. Lexicographic re-sorting
// is never applied.
func (m *Merger) mergeDocument(ctx context.Context, caseID, document string, cf ControlFile) error {
	scratch := filepath.Join(m.cfg.WritePath, "merge", caseID, document)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	for _, rendition := range renditions {
		var parts []string
		for i, entry := range cf.Files {
			partKey := entry.key(rendition)
			if partKey == "" {
				continue
			}
			local := filepath.Join(scratch, rendition+"_"+strconv.Itoa(i)+".pdf")
			if err := m.store.Download(ctx, m.cfg.MainBucket, partKey, local); err != nil {
				return fmt.Errorf("download part %s: %w", partKey, err)
			}
			parts = append(parts, local)
		}
		if len(parts) == 0 {
			continue
		}

		name := rendition + m.cfg.PDFSuffix + ".pdf"
		local := filepath.Join(scratch, name)
		if err := m.merger.Merge(parts, local); err != nil {
			return fmt.Errorf("merge %s: %w", rendition, err)
		}
		outKey := keys.MergedOutputKey(caseID, cf.SubFolder, name)
		if err := m.store.Upload(ctx, m.cfg.MainBucket, outKey, local); err != nil {
			return fmt.Errorf("upload %s: %w", outKey, err)
		}
		log.Debug().Str("caseId", caseID).Str("outputKey", outKey).Int("parts", len(parts)).Msg("Rendition merged")
	}
	return nil
}

// settleUnmerged records a terminal merge failure: the unmerged marker for
// the reconciler's audit trail plus the ledger counter.
func (m *Merger) settleUnmerged(ctx context.Context, caseID, document string) {
	if err := m.store.PutMarker(ctx, m.cfg.MainBucket, keys.UnmergedKey(caseID, document)); err != nil {
		log.Error().Err(err).Str("caseId", caseID).Str("document", document).Msg("Could not write unmerged marker")
	}
	if err := m.ledger.IncrementUnmerged(ctx, caseID); err != nil {
		log.Error().Err(err).Str("caseId", caseID).Msg("Could not increment unmerged counter")
	}
}

// cleanup removes the document's completion-marker namespace and the
// consumed trigger object. Failures are logged, not returned; a leftover
// marker only costs storage, while failing the invocation here would
// re-run a merge that already settled the ledger.
func (m *Merger) cleanup(ctx context.Context, caseID, category, document, triggerKey string) {
	if category != "" {
		prefix := keys.MetadataPrefixFor(caseID, category, document)
		if err := m.store.DeletePrefix(ctx, m.cfg.MetadataBucket, prefix); err != nil {
			log.Error().Err(err).Str("prefix", prefix).Msg("Could not clean metadata prefix")
		}
	}
	m.deleteTrigger(ctx, triggerKey)
}

func (m *Merger) deleteTrigger(ctx context.Context, triggerKey string) {
	if err := m.store.Delete(ctx, m.cfg.MergeTriggerBucket, triggerKey); err != nil {
		log.Error().Err(err).Str("key", triggerKey).Msg("Could not delete merge trigger")
	}
}
