package partition

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/docviewer/docpdf-pipeline/internal/keys"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
)

const (
	mainBucket     = "main"
	metadataBucket = "metadata"
	triggerBucket  = "trigger"
)

func seedCase(t *testing.T, store *objstore.MemStore, fileKeys []string) {
	t.Helper()
	ctx := context.Background()
	for _, k := range fileKeys {
		if err := store.Put(ctx, mainBucket, k, []byte("x")); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
}

func TestPartitionDocument(t *testing.T) {
	store := objstore.NewMemStore()
	seedCase(t, store, []string{
		"C1/exhibits/EX01/folder_a/doc1.txt",
		"C1/exhibits/EX01/folder_a/doc2.pdf",
		"C1/exhibits/EX01/folder_b/scan.tif",
		"C1/exhibits/EX01/folder_b/full_marks/mark.png",
	})

	p := New(store, mainBucket, metadataBucket, triggerBucket, "exhibits")
	res, err := p.PartitionDocument(context.Background(), "C1", "EX01")
	if err != nil {
		t.Fatalf("PartitionDocument: %v", err)
	}
	if res.TriggerCount != 2 {
		t.Errorf("TriggerCount = %d, want 2", res.TriggerCount)
	}

	if !store.Exists(metadataBucket, "C1/exhibits/EX01/EX01___2") {
		t.Error("metadata marker missing or wrong count")
	}
	for _, trig := range []string{"C1/exhibits/EX01/folder_a", "C1/exhibits/EX01/folder_b"} {
		if !store.Exists(triggerBucket, trig) {
			t.Errorf("trigger %s missing", trig)
		}
	}
}

// Re-partitioning an unchanged document must converge to the same markers,
// so a duplicate request cannot corrupt the expected count.
func TestPartitionDocumentIdempotent(t *testing.T) {
	store := objstore.NewMemStore()
	seedCase(t, store, []string{
		"C1/exhibits/EX01/folder_a/doc.txt",
		"C1/exhibits/EX01/folder_b/doc.txt",
	})

	p := New(store, mainBucket, metadataBucket, triggerBucket, "exhibits")
	ctx := context.Background()
	if _, err := p.PartitionDocument(ctx, "C1", "EX01"); err != nil {
		t.Fatal(err)
	}
	first, _ := store.List(ctx, triggerBucket, "")
	firstMeta, _ := store.List(ctx, metadataBucket, "")

	if _, err := p.PartitionDocument(ctx, "C1", "EX01"); err != nil {
		t.Fatal(err)
	}
	second, _ := store.List(ctx, triggerBucket, "")
	secondMeta, _ := store.List(ctx, metadataBucket, "")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("trigger set changed: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(firstMeta, secondMeta) {
		t.Errorf("metadata set changed: %v vs %v", firstMeta, secondMeta)
	}
}

// An empty document folder must be refused outright: registering it would
// create a ledger unit with no trigger folders, which no completion count
// can ever balance.
func TestPartitionEmptyDocumentRefused(t *testing.T) {
	store := objstore.NewMemStore()
	p := New(store, mainBucket, metadataBucket, triggerBucket, "exhibits")

	_, err := p.PartitionDocument(context.Background(), "C1", "EX01")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}

	ctx := context.Background()
	if meta, _ := store.List(ctx, metadataBucket, ""); len(meta) != 0 {
		t.Errorf("metadata markers written for empty document: %v", meta)
	}
	if trig, _ := store.List(ctx, triggerBucket, ""); len(trig) != 0 {
		t.Errorf("trigger objects written for empty document: %v", trig)
	}
}

func TestPartitionCase(t *testing.T) {
	store := objstore.NewMemStore()
	seedCase(t, store, []string{
		"C1/exhibits/EX01/folder_a/doc.txt",
		"C1/exhibits/EX02/folder_a/doc.txt",
		"C1/exhibits/EX02/folder_b/doc.txt",
		"C1/exhibits/EX03/folder_a/full_marks/doc.txt",
	})

	p := New(store, mainBucket, metadataBucket, triggerBucket, "exhibits")
	results, err := p.PartitionCase(context.Background(), "C1")
	if err != nil {
		t.Fatalf("PartitionCase: %v", err)
	}

	want := []DocumentResult{
		{Document: "EX01", TriggerCount: 1},
		{Document: "EX02", TriggerCount: 2},
		{Document: "EX03", TriggerCount: 1},
	}
	if !reflect.DeepEqual(results, want) {
		t.Errorf("results = %+v, want %+v", results, want)
	}

	for _, doc := range []string{"EX01", "EX02", "EX03"} {
		found := false
		for n := 1; n <= 2; n++ {
			if store.Exists(metadataBucket, keys.MetadataMarkerKey("C1", "exhibits", doc, n)) {
				found = true
			}
		}
		if !found {
			t.Errorf("no metadata marker for %s", doc)
		}
	}
}

func TestTriggerFolders(t *testing.T) {
	files := []string{
		"C1/exhibits/EX01/folder_a/one.txt",
		"C1/exhibits/EX01/folder_a/two.txt",
		"C1/exhibits/EX01/folder_a/full_marks/mark.png",
		"C1/exhibits/EX01/folder_b/three.txt",
	}
	got := TriggerFolders(files)
	want := []string{"C1/exhibits/EX01/folder_a", "C1/exhibits/EX01/folder_b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TriggerFolders = %v, want %v", got, want)
	}
}

func TestDocumentFolders(t *testing.T) {
	files := []string{
		"C1/exhibits/EX02/folder_a/doc.txt",
		"C1/exhibits/EX01/folder_a/doc.txt",
		"C1/exhibits/EX01/folder_b/nested/deep.txt",
	}
	got := DocumentFolders(files)
	want := []string{"EX01", "EX02"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DocumentFolders = %v, want %v", got, want)
	}
}
