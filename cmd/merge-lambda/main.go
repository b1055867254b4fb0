// Package main provides the merge Lambda entry point.
//
// It is triggered by object-created events on the merge-trigger bucket.
// Each event carries the object version the aggregator wrote; the merger
// compares it against the key's current version and processes only the
// latest, which collapses the duplicate triggers a racing fan-in can
// produce into exactly one merge.
package main

import (
	"context"
	"net/url"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/keys"
	"github.com/docviewer/docpdf-pipeline/internal/lambdaboot"
	"github.com/docviewer/docpdf-pipeline/internal/logging"
	"github.com/docviewer/docpdf-pipeline/internal/mergejob"
	"github.com/docviewer/docpdf-pipeline/internal/metrics"
	"github.com/docviewer/docpdf-pipeline/internal/pdfmerge"
)

var merger *mergejob.Merger

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	store := lambdaboot.InitStore(clients.Config)
	buckets := lambdaboot.InitBuckets()
	ldg := lambdaboot.InitLedger(clients)

	pdfSuffix := logging.EnvOrDefault("PDF_FILE_SUFFIX", "_dv")
	writePath := logging.EnvOrDefault("WRITE_PATH", "/tmp")

	merger = mergejob.New(store, ldg, pdfmerge.New(), mergejob.Config{
		MainBucket:         buckets.Main,
		MetadataBucket:     buckets.Metadata,
		MergeTriggerBucket: buckets.MergeTrigger,
		WritePath:          writePath,
		PDFSuffix:          pdfSuffix,
	})

	lambdaboot.StartupLog("merge-lambda", initStart).
		S3Bucket("main", buckets.Main).
		S3Bucket("metadata", buckets.Metadata).
		S3Bucket("mergeTrigger", buckets.MergeTrigger).
		Config("pdfSuffix", pdfSuffix).
		Config("writePath", writePath).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event events.S3Event) error {
	for _, record := range event.Records {
		triggerKey, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			log.Error().Err(err).Str("rawKey", record.S3.Object.Key).Msg("Undecodable merge trigger key")
			continue
		}
		start := time.Now()

		if err := merger.HandleTrigger(ctx, triggerKey, record.S3.Object.VersionID); err != nil {
			// Malformed trigger keys cannot be retried into validity.
			log.Error().Err(err).Str("triggerKey", triggerKey).Msg("Merge trigger rejected")
			continue
		}

		caseID, document, err := keys.DocumentOfControlFile(triggerKey)
		if err == nil {
			metrics.ForCase("merge", caseID).
				Count("MergeTriggersHandled", 1).
				Duration("MergeDurationMs", time.Since(start)).
				Property("document", document).
				Flush()
		}
	}
	return nil
}
