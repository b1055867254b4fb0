// Package pdfmerge concatenates converted PDFs in insertion order. Inputs
// are merged in the exact order the caller lists them — never re-sorted by
// filename, since numeric filenames ("10.pdf" < "2.pdf") make lexicographic
// order unreliable. Large inputs are merged in batches so peak open-file
// and memory usage stays bounded for exhibits with tens of thousands of
// pages.
package pdfmerge

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// DefaultBatchSize is the number of PDFs concatenated per intermediate.
const DefaultBatchSize = 500

// MergeFunc concatenates inFiles, in order, into outFile.
type MergeFunc func(inFiles []string, outFile string) error

// pdfcpuMerge is the production MergeFunc.
func pdfcpuMerge(inFiles []string, outFile string) error {
	return api.MergeCreateFile(inFiles, outFile, false, nil)
}

// Merger merges PDF lists with batching.
type Merger struct {
	batchSize int
	merge     MergeFunc
}

// New returns a pdfcpu-backed Merger with the default batch size.
func New() *Merger {
	return &Merger{batchSize: DefaultBatchSize, merge: pdfcpuMerge}
}

// NewWithMergeFunc returns a Merger with a custom batch size and merge
// implementation. Used by tests to observe concatenation order without
// real PDF inputs.
func NewWithMergeFunc(batchSize int, fn MergeFunc) *Merger {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Merger{batchSize: batchSize, merge: fn}
}

// Merge concatenates pdfs into outFile. A single input is copied through
// unchanged. When the input count reaches the batch size, each batch is
// merged into an intermediate and the intermediates are merged last;
// the page sequence is identical to an unbatched merge.
func (m *Merger) Merge(pdfs []string, outFile string) error {
	switch {
	case len(pdfs) == 0:
		return fmt.Errorf("merge %s: no input files", outFile)
	case len(pdfs) == 1:
		return copyFile(pdfs[0], outFile)
	case len(pdfs) < m.batchSize:
		if err := m.merge(pdfs, outFile); err != nil {
			return fmt.Errorf("merge %s: %w", outFile, err)
		}
		return nil
	}

	batches := Batches(pdfs, m.batchSize)
	log.Info().Int("pdfCount", len(pdfs)).Int("batchCount", len(batches)).Str("out", outFile).Msg("Merging in batches")

	intermediates := make([]string, 0, len(batches))
	defer func() {
		for _, f := range intermediates {
			os.Remove(f)
		}
	}()
	for i, batch := range batches {
		intermediate := outFile + strconv.Itoa(i) + ".pdf"
		if err := m.merge(batch, intermediate); err != nil {
			return fmt.Errorf("merge batch %d of %s: %w", i, outFile, err)
		}
		intermediates = append(intermediates, intermediate)
	}

	if err := m.merge(intermediates, outFile); err != nil {
		return fmt.Errorf("merge intermediates of %s: %w", outFile, err)
	}
	return nil
}

// Batches splits pdfs into consecutive slices of at most size elements,
// preserving order. Exposed for the batching equivalence tests.
func Batches(pdfs []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(pdfs); start += size {
		end := start + size
		if end > len(pdfs) {
			end = len(pdfs)
		}
		out = append(out, pdfs[start:end])
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	return nil
}
