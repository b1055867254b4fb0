package pdfmerge

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
)

// recordingMerge fakes the pdfcpu call by concatenating input file
// contents, so tests observe exact concatenation order without real PDFs.
func recordingMerge(calls *[][]string) MergeFunc {
	return func(inFiles []string, outFile string) error {
		in := append([]string(nil), inFiles...)
		*calls = append(*calls, in)
		var data []byte
		for _, f := range inFiles {
			b, err := os.ReadFile(f)
			if err != nil {
				return err
			}
			data = append(data, b...)
		}
		return os.WriteFile(outFile, data, 0644)
	}
}

func writeInputs(t *testing.T, dir string, names []string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		if err := os.WriteFile(paths[i], []byte(name+";"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestMergePreservesInsertionOrder(t *testing.T) {
	dir := t.TempDir()
	// Numeric names where lexicographic order differs from insertion order.
	inputs := writeInputs(t, dir, []string{"10.pdf", "2.pdf", "1.pdf"})

	var calls [][]string
	m := NewWithMergeFunc(DefaultBatchSize, recordingMerge(&calls))
	out := filepath.Join(dir, "out.pdf")
	if err := m.Merge(inputs, out); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "10.pdf;2.pdf;1.pdf;" {
		t.Errorf("merged content = %q, want insertion order preserved", got)
	}
}

func TestMergeSingleInputCopiesThrough(t *testing.T) {
	dir := t.TempDir()
	inputs := writeInputs(t, dir, []string{"only.pdf"})

	var calls [][]string
	m := NewWithMergeFunc(DefaultBatchSize, recordingMerge(&calls))
	out := filepath.Join(dir, "out.pdf")
	if err := m.Merge(inputs, out); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("merge called %d times for a single input, want copy-through", len(calls))
	}
	data, _ := os.ReadFile(out)
	if string(data) != "only.pdf;" {
		t.Errorf("copied content = %q", data)
	}
}

func TestMergeEmptyInputFails(t *testing.T) {
	m := NewWithMergeFunc(DefaultBatchSize, recordingMerge(&[][]string{}))
	if err := m.Merge(nil, "out.pdf"); err == nil {
		t.Error("expected error for empty input")
	}
}

// A batched merge must produce the same page sequence as an unbatched one.
func TestBatchedMergeEquivalence(t *testing.T) {
	dir := t.TempDir()
	names := make([]string, 7)
	var want string
	for i := range names {
		names[i] = "p" + strconv.Itoa(i) + ".pdf"
		want += names[i] + ";"
	}
	inputs := writeInputs(t, dir, names)

	var calls [][]string
	m := NewWithMergeFunc(3, recordingMerge(&calls))
	out := filepath.Join(dir, "out.pdf")
	if err := m.Merge(inputs, out); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != want {
		t.Errorf("batched content = %q, want %q", data, want)
	}
	// 7 inputs at batch size 3: three batch merges plus the final merge.
	if len(calls) != 4 {
		t.Errorf("merge calls = %d, want 4", len(calls))
	}
	for _, f := range calls[len(calls)-1] {
		if _, err := os.Stat(f); err == nil {
			t.Errorf("intermediate %s not cleaned up", f)
		}
	}
}

func TestBatches(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e"}
	got := Batches(in, 2)
	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Batches = %v, want %v", got, want)
	}
	if got := Batches(nil, 2); got != nil {
		t.Errorf("Batches(nil) = %v, want nil", got)
	}
}
