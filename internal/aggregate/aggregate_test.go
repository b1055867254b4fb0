package aggregate

import (
	"context"
	"fmt"
	"testing"

	"github.com/docviewer/docpdf-pipeline/internal/keys"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
)

const (
	metadataBucket     = "metadata"
	mergeTriggerBucket = "merge-trigger"
)

func folder(trigger string) keys.TriggerFolder {
	return keys.TriggerFolder{Case: "C1", Category: "exhibits", Document: "EX01", Trigger: trigger}
}

func seedMetadata(t *testing.T, store *objstore.MemStore, expected int, successes ...string) {
	t.Helper()
	ctx := context.Background()
	meta := keys.MetadataMarkerKey("C1", "exhibits", "EX01", expected)
	if err := store.PutMarker(ctx, metadataBucket, meta); err != nil {
		t.Fatal(err)
	}
	for _, trig := range successes {
		if err := store.PutMarker(ctx, metadataBucket, folder(trig).SuccessKey()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestIncompleteCountDoesNotTrigger(t *testing.T) {
	store := objstore.NewMemStore()
	seedMetadata(t, store, 3, "folder_a", "folder_b")

	agg := New(store, metadataBucket, mergeTriggerBucket)
	triggered, err := agg.OnFolderComplete(context.Background(), folder("folder_b"))
	if err != nil {
		t.Fatalf("OnFolderComplete: %v", err)
	}
	if triggered {
		t.Error("triggered with 2 of 3 successes")
	}
	if store.Exists(mergeTriggerBucket, folder("folder_b").ControlFileKey()) {
		t.Error("merge trigger written prematurely")
	}
}

func TestFullCountTriggersMerge(t *testing.T) {
	store := objstore.NewMemStore()
	seedMetadata(t, store, 3, "folder_a", "folder_b", "folder_c")

	agg := New(store, metadataBucket, mergeTriggerBucket)
	triggered, err := agg.OnFolderComplete(context.Background(), folder("folder_c"))
	if err != nil {
		t.Fatalf("OnFolderComplete: %v", err)
	}
	if !triggered {
		t.Fatal("expected merge trigger")
	}
	if !store.Exists(mergeTriggerBucket, "C1/doc_pdf/control_files/EX01.json") {
		t.Error("merge trigger not at the fixed control-file key")
	}
}

// The last-arriving worker must reach the same decision no matter which
// trigger folder it handled: the recount is commutative over completion
// order.
func TestDecisionCommutesOverCompletionOrder(t *testing.T) {
	orders := [][]string{
		{"folder_a", "folder_b", "folder_c"},
		{"folder_c", "folder_a", "folder_b"},
		{"folder_b", "folder_c", "folder_a"},
	}
	for i, order := range orders {
		t.Run(fmt.Sprintf("order_%d", i), func(t *testing.T) {
			store := objstore.NewMemStore()
			ctx := context.Background()
			meta := keys.MetadataMarkerKey("C1", "exhibits", "EX01", 3)
			if err := store.PutMarker(ctx, metadataBucket, meta); err != nil {
				t.Fatal(err)
			}

			agg := New(store, metadataBucket, mergeTriggerBucket)
			var fired int
			for _, trig := range order {
				if err := store.PutMarker(ctx, metadataBucket, folder(trig).SuccessKey()); err != nil {
					t.Fatal(err)
				}
				triggered, err := agg.OnFolderComplete(ctx, folder(trig))
				if err != nil {
					t.Fatal(err)
				}
				if triggered {
					fired++
				}
			}
			if fired != 1 {
				t.Errorf("merge trigger fired %d times, want exactly 1", fired)
			}
		})
	}
}

// Duplicate late recounts re-put the same key; the write is idempotent and
// the version guard downstream disambiguates, so no error and no extra key.
func TestDuplicateRecountIsIdempotent(t *testing.T) {
	store := objstore.NewMemStore()
	seedMetadata(t, store, 1, "folder_a")

	agg := New(store, metadataBucket, mergeTriggerBucket)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := agg.OnFolderComplete(ctx, folder("folder_a")); err != nil {
			t.Fatal(err)
		}
	}
	triggers, _ := store.List(ctx, mergeTriggerBucket, "")
	if len(triggers) != 1 {
		t.Errorf("trigger keys = %v, want exactly one", triggers)
	}
}

func TestMissingMetadataMarkerIsAnError(t *testing.T) {
	store := objstore.NewMemStore()
	ctx := context.Background()
	if err := store.PutMarker(ctx, metadataBucket, folder("folder_a").SuccessKey()); err != nil {
		t.Fatal(err)
	}

	agg := New(store, metadataBucket, mergeTriggerBucket)
	if _, err := agg.OnFolderComplete(ctx, folder("folder_a")); err == nil {
		t.Error("expected error without metadata marker")
	}
}

// Success markers for sibling documents under the same case must not leak
// into this document's count.
func TestSiblingDocumentIsolation(t *testing.T) {
	store := objstore.NewMemStore()
	ctx := context.Background()
	seedMetadata(t, store, 2, "folder_a")
	sibling := keys.TriggerFolder{Case: "C1", Category: "exhibits", Document: "EX02", Trigger: "folder_x"}
	if err := store.PutMarker(ctx, metadataBucket, sibling.SuccessKey()); err != nil {
		t.Fatal(err)
	}

	agg := New(store, metadataBucket, mergeTriggerBucket)
	triggered, err := agg.OnFolderComplete(ctx, folder("folder_a"))
	if err != nil {
		t.Fatal(err)
	}
	if triggered {
		t.Error("sibling document's marker counted toward completion")
	}
}
