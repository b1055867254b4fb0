package convert

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"

	"github.com/docviewer/docpdf-pipeline/internal/pdfmerge"
)

// Tool names resolved from PATH (Lambda layers put them there).
const (
	toolWkhtmltopdf = "wkhtmltopdf"
	toolTesseract   = "tesseract"
	toolMagick      = "magick"
)

// NewDefaultRegistry wires the stock converter set. docConverter handles
// office formats via the docconvert Lambda and may be nil when that
// function is not configured.
func NewDefaultRegistry(docConverter Converter) *Registry {
	r := NewRegistry()
	r.Register(ConverterFunc(convertPDF), "pdf")
	r.Register(ConverterFunc(convertMarkup), "txt", "html", "htm", "xml", "mht", "mhtml", "csv", "eml")
	r.Register(ConverterFunc(convertImage), "png", "jpg", "jpeg", "gif")
	r.Register(ConverterFunc(convertBMP), "bmp")
	r.Register(ConverterFunc(convertTIFF), "tif", "tiff")
	if docConverter != nil {
		r.Register(docConverter, "doc", "docx")
	}
	return r
}

// convertPDF copies an already-PDF input through unchanged.
func convertPDF(_ context.Context, inputPath, outputPath string) Outcome {
	in, err := os.Open(inputPath)
	if err != nil {
		return Failure(fmt.Errorf("open %s: %w", inputPath, err))
	}
	defer in.Close()
	out, err := os.Create(outputPath)
	if err != nil {
		return Failure(fmt.Errorf("create %s: %w", outputPath, err))
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return Failure(fmt.Errorf("copy %s: %w", outputPath, err))
	}
	return Success()
}

// convertMarkup renders text and markup formats through wkhtmltopdf. Email
// bodies (.eml) are truncated at the first attachment boundary first, so a
// multi-megabyte attachment blob does not end up rendered as text.
func convertMarkup(ctx context.Context, inputPath, outputPath string) Outcome {
	renderPath := inputPath
	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".mht", ".mhtml":
		// wkhtmltopdf only sniffs content for .html inputs.
		renderPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".html"
		if out := convertPDF(ctx, inputPath, renderPath); !out.OK() {
			return out
		}
	case ".eml":
		truncated, err := truncateAtAttachment(inputPath)
		if err != nil {
			return Failure(err)
		}
		renderPath = truncated
	}
	return runTool(ctx, outputPath, toolWkhtmltopdf,
		"--enable-local-file-access", "--load-error-handling", "ignore", "--quiet",
		renderPath, outputPath)
}

// truncateAtAttachment writes a copy of the email up to the first
// attachment disposition header and returns its path.
func truncateAtAttachment(inputPath string) (string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", inputPath, err)
	}
	if i := strings.Index(string(data), "Content-Disposition: attachment;"); i >= 0 {
		data = data[:i]
	}
	outPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".txt"
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", outPath, err)
	}
	return outPath, nil
}

// convertImage OCRs a raster image into a searchable PDF.
func convertImage(ctx context.Context, inputPath, outputPath string) Outcome {
	// tesseract appends .pdf to the output base itself.
	outBase := strings.TrimSuffix(outputPath, ".pdf")
	return runTool(ctx, outputPath, toolTesseract, inputPath, outBase, "pdf")
}

// convertBMP decodes the bitmap in-process and re-encodes it as PNG before
// OCR; tesseract's BMP support is unreliable across variants.
func convertBMP(ctx context.Context, inputPath, outputPath string) Outcome {
	f, err := os.Open(inputPath)
	if err != nil {
		return Failure(fmt.Errorf("open %s: %w", inputPath, err))
	}
	img, err := bmp.Decode(f)
	f.Close()
	if err != nil {
		return Failure(fmt.Errorf("decode bmp %s: %w", inputPath, err))
	}

	pngPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".png"
	out, err := os.Create(pngPath)
	if err != nil {
		return Failure(fmt.Errorf("create %s: %w", pngPath, err))
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return Failure(fmt.Errorf("encode png %s: %w", pngPath, err))
	}
	out.Close()

	return convertImage(ctx, pngPath, outputPath)
}

// mergerForPages merges per-page PDFs back into one document. Variable so
// the TIFF tests can observe the merge without pdfcpu.
var mergerForPages = pdfmerge.New()
