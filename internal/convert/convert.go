// Package convert dispatches document files to PDF converters by
// extension. The converters themselves are thin glue around external
// tools; the pipeline only cares about their typed Outcome. New formats
// register a Converter without touching dispatch logic.
package convert

import (
	"context"
	"path/filepath"
	"strings"
)

// Code classifies a conversion attempt. Tools that report completion with
// a warning exit (wkhtmltopdf does this routinely) get an explicit code
// instead of error-text inspection.
type Code int

const (
	// Failed means no usable PDF was produced.
	Failed Code = iota
	// Converted means the PDF was produced cleanly.
	Converted
	// ConvertedWithWarnings means the tool exited non-zero but left a
	// usable PDF behind.
	ConvertedWithWarnings
)

// Outcome is the result of one file conversion.
type Outcome struct {
	Code Code
	Err  error
}

// OK reports whether a usable PDF exists.
func (o Outcome) OK() bool { return o.Code != Failed }

// Success returns a clean Outcome.
func Success() Outcome { return Outcome{Code: Converted} }

// Warning returns a completed-with-warnings Outcome carrying the tool error.
func Warning(err error) Outcome { return Outcome{Code: ConvertedWithWarnings, Err: err} }

// Failure returns a failed Outcome.
func Failure(err error) Outcome { return Outcome{Code: Failed, Err: err} }

// Converter turns one input file into one PDF at outputPath.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) Outcome
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(ctx context.Context, inputPath, outputPath string) Outcome

func (f ConverterFunc) Convert(ctx context.Context, inputPath, outputPath string) Outcome {
	return f(ctx, inputPath, outputPath)
}

// Registry maps lowercased file extensions (without dot) to converters.
type Registry struct {
	byExt map[string]Converter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Converter)}
}

// Register binds a converter to one or more extensions.
func (r *Registry) Register(conv Converter, exts ...string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = conv
	}
}

// For returns the converter for a filename's extension.
func (r *Registry) For(filename string) (Converter, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	conv, ok := r.byExt[ext]
	return conv, ok
}

// Supported reports whether the filename has a registered converter.
func (r *Registry) Supported(filename string) bool {
	_, ok := r.For(filename)
	return ok
}
