// Package main provides the docconvert Lambda entry point.
//
// The function runs in a container image carrying LibreOffice, which the
// worker image does not. The worker invokes it synchronously with an
// input/output key pair; this function downloads the office document,
// converts it headlessly, uploads the PDF, and reports a boolean result.
// LibreOffice occasionally fails its first headless start on a cold
// profile, so the conversion gets one retry before giving up.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/lambdaboot"
	"github.com/docviewer/docpdf-pipeline/internal/logging"
	"github.com/docviewer/docpdf-pipeline/internal/metrics"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
)

var (
	store      *objstore.S3Store
	mainBucket string
	writePath  string
)

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	store = lambdaboot.InitStore(clients.Config)
	mainBucket = lambdaboot.RequireBucket("MAIN_BUCKET_NAME")
	writePath = logging.EnvOrDefault("WRITE_PATH", "/tmp")

	lambdaboot.StartupLog("docconvert-lambda", initStart).
		S3Bucket("main", mainBucket).
		Config("writePath", writePath).
		Log()
}

// Request is the conversion contract with the worker.
type Request struct {
	S3InputFile  string `json:"s3_input_file"`
	S3OutputFile string `json:"s3_output_file"`
}

// Response reports whether the converted PDF was uploaded.
type Response struct {
	Response bool `json:"response"`
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	lg := log.With().Str("inputKey", req.S3InputFile).Logger()

	if req.S3InputFile == "" || req.S3OutputFile == "" {
		lg.Error().Str("outputKey", req.S3OutputFile).Msg("Incomplete conversion request")
		return Response{Response: false}, nil
	}

	ok := convertDocument(ctx, req)
	if ok {
		lg.Info().Dur("duration", time.Since(start)).Msg("Office document converted")
	} else {
		lg.Error().Dur("duration", time.Since(start)).Msg("Office document conversion failed")
	}

	metrics.ForCase("docconvert", caseOf(req.S3InputFile)).
		Count("OfficeConversions", 1).
		Count("OfficeConversionFailures", boolToInt(!ok)).
		Duration("OfficeConversionDurationMs", time.Since(start)).
		Flush()
	return Response{Response: ok}, nil
}

func convertDocument(ctx context.Context, req Request) bool {
	scratch, err := os.MkdirTemp(writePath, "docconvert-")
	if err != nil {
		log.Error().Err(err).Msg("Scratch dir creation failed")
		return false
	}
	defer os.RemoveAll(scratch)

	localIn := filepath.Join(scratch, filepath.Base(req.S3InputFile))
	if err := store.Download(ctx, mainBucket, req.S3InputFile, localIn); err != nil {
		log.Error().Err(err).Str("key", req.S3InputFile).Msg("Download failed")
		return false
	}

	// soffice names the output after the input base, in the target dir.
	localOut := filepath.Join(scratch, strings.TrimSuffix(filepath.Base(localIn), filepath.Ext(localIn))+".pdf")
	if err := runSoffice(ctx, localIn, scratch); err != nil {
		log.Warn().Err(err).Msg("LibreOffice failed, retrying once")
		if err := runSoffice(ctx, localIn, scratch); err != nil {
			log.Error().Err(err).Msg("LibreOffice failed on retry")
			return false
		}
	}
	if _, err := os.Stat(localOut); err != nil {
		log.Error().Err(err).Str("expected", localOut).Msg("LibreOffice produced no output")
		return false
	}

	if err := store.Upload(ctx, mainBucket, req.S3OutputFile, localOut); err != nil {
		log.Error().Err(err).Str("key", req.S3OutputFile).Msg("Upload failed")
		return false
	}
	return true
}

func runSoffice(ctx context.Context, inputPath, outDir string) error {
	cmd := exec.CommandContext(ctx, "soffice",
		"--headless", "--norestore", "--invisible", "--nodefault",
		"--nofirststartwizard", "--nolockcheck", "--nologo",
		"--convert-to", "pdf:writer_pdf_Export",
		"--outdir", outDir, inputPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("soffice: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func caseOf(key string) string {
	if i := strings.Index(key, "/"); i > 0 {
		return key[:i]
	}
	return key
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
