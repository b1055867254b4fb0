package convert

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryDispatchByExtension(t *testing.T) {
	r := NewRegistry()
	var called string
	r.Register(ConverterFunc(func(context.Context, string, string) Outcome {
		called = "text"
		return Success()
	}), "txt", "html")
	r.Register(ConverterFunc(func(context.Context, string, string) Outcome {
		called = "image"
		return Success()
	}), "png")

	tests := []struct {
		filename string
		want     string
	}{
		{"C1/exhibits/EX01/a/doc.txt", "text"},
		{"C1/exhibits/EX01/a/page.HTML", "text"},
		{"C1/exhibits/EX01/a/scan.png", "image"},
	}
	for _, tt := range tests {
		conv, ok := r.For(tt.filename)
		if !ok {
			t.Fatalf("For(%q): no converter", tt.filename)
		}
		conv.Convert(context.Background(), tt.filename, "out.pdf")
		if called != tt.want {
			t.Errorf("For(%q) dispatched to %q, want %q", tt.filename, called, tt.want)
		}
	}
}

func TestRegistryUnknownExtension(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.For("file.zip"); ok {
		t.Error("unknown extension returned a converter")
	}
	if r.Supported("file.zip") {
		t.Error("Supported true for unknown extension")
	}
	if _, ok := r.For("noextension"); ok {
		t.Error("extensionless file returned a converter")
	}
}

func TestDefaultRegistryCoverage(t *testing.T) {
	r := NewDefaultRegistry(nil)
	for _, name := range []string{
		"a.pdf", "a.txt", "a.html", "a.htm", "a.xml", "a.mht", "a.mhtml",
		"a.csv", "a.eml", "a.png", "a.jpg", "a.jpeg", "a.gif", "a.bmp",
		"a.tif", "a.tiff",
	} {
		if !r.Supported(name) {
			t.Errorf("default registry does not support %s", name)
		}
	}
	// Office formats need the remote converter.
	if r.Supported("a.docx") {
		t.Error("docx registered without a remote converter")
	}

	withRemote := NewDefaultRegistry(ConverterFunc(func(context.Context, string, string) Outcome {
		return Success()
	}))
	if !withRemote.Supported("a.doc") || !withRemote.Supported("a.docx") {
		t.Error("office formats missing with remote converter wired")
	}
}

func TestOutcomeCodes(t *testing.T) {
	if !Success().OK() {
		t.Error("Success not OK")
	}
	w := Warning(errors.New("exit status 1"))
	if !w.OK() {
		t.Error("Warning outcome must still count as converted")
	}
	if w.Code != ConvertedWithWarnings || w.Err == nil {
		t.Errorf("Warning = %+v", w)
	}
	f := Failure(errors.New("boom"))
	if f.OK() {
		t.Error("Failure reported OK")
	}
}
