// Package main provides the worker Lambda entry point.
//
// One invocation per trigger object: the worker converts every file in
// the trigger's folder, then runs the completion aggregator synchronously
// so a fully converged document places its merge trigger before the
// invocation returns. Errors are terminal per folder (the folder degrades
// to an unprocessed marker), never propagated to the Lambda runtime,
// since a redelivered event would find its trigger object already
// consumed.
package main

import (
	"context"
	"net/url"
	"runtime"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/aggregate"
	"github.com/docviewer/docpdf-pipeline/internal/convert"
	"github.com/docviewer/docpdf-pipeline/internal/lambdaboot"
	"github.com/docviewer/docpdf-pipeline/internal/logging"
	"github.com/docviewer/docpdf-pipeline/internal/metrics"
	"github.com/docviewer/docpdf-pipeline/internal/worker"
)

var coldStart = true

var (
	wrk *worker.Worker
	agg *aggregate.Aggregator
)

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	store := lambdaboot.InitStore(clients.Config)
	buckets := lambdaboot.InitBuckets()

	var docConverter convert.Converter
	docFunctionARN := logging.EnvOrDefault("DOC_CONVERT_FUNCTION_ARN", "")
	if docFunctionARN != "" {
		docConverter = convert.NewRemoteConverter(lambdaboot.InitLambdaClient(clients.Config), docFunctionARN)
	} else {
		log.Warn().Msg("DOC_CONVERT_FUNCTION_ARN not set, office documents will fail conversion")
	}

	outputFolder := logging.EnvOrDefault("OUTPUT_FOLDER_NAME", "doc_pdf")
	writePath := logging.EnvOrDefault("WRITE_PATH", "/tmp")

	wrk = worker.New(store, convert.NewDefaultRegistry(docConverter), worker.Config{
		MainBucket:     buckets.Main,
		MetadataBucket: buckets.Metadata,
		TriggerBucket:  buckets.Trigger,
		OutputFolder:   outputFolder,
		WritePath:      writePath,
	})
	agg = aggregate.New(store, buckets.Metadata, buckets.MergeTrigger)

	lambdaboot.StartupLog("worker-lambda", initStart).
		S3Bucket("main", buckets.Main).
		S3Bucket("metadata", buckets.Metadata).
		S3Bucket("trigger", buckets.Trigger).
		S3Bucket("mergeTrigger", buckets.MergeTrigger).
		Feature("officeConversion", docFunctionARN != "").
		Config("outputFolder", outputFolder).
		Config("writePath", writePath).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event events.S3Event) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "worker-lambda").Msg("Cold start, first invocation")
	}

	for _, record := range event.Records {
		triggerKey, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			log.Error().Err(err).Str("rawKey", record.S3.Object.Key).Msg("Undecodable trigger key")
			continue
		}
		processRecord(ctx, triggerKey)
	}
	return nil
}

func processRecord(ctx context.Context, triggerKey string) {
	start := time.Now()

	res, err := wrk.ProcessTrigger(ctx, triggerKey)
	if err != nil {
		log.Error().Err(err).Str("triggerKey", triggerKey).Msg("Trigger folder processing failed")
	}

	if res.AllConverted {
		if _, err := agg.OnFolderComplete(ctx, res.Folder); err != nil {
			// The recount reruns on the next sibling's completion; only a
			// document whose final worker hits this needs the reconciler.
			log.Error().Err(err).Str("document", res.Folder.Document).Msg("Completion aggregation failed")
		}
	}

	metrics.ForCase("worker", res.Folder.Case).
		Count("FilesTotal", res.Total).
		Count("FilesConverted", res.Converted).
		Count("FolderSucceeded", boolToInt(res.AllConverted)).
		Duration("FolderDurationMs", time.Since(start)).
		Property("triggerFolder", res.Folder.Key()).
		Property("goroutines", runtime.NumGoroutine()).
		Flush()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
