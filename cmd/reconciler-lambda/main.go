// Package main provides the reconciler Lambda entry point.
//
// It runs on an EventBridge schedule, refreshes each active case's
// unprocessed count from the failure markers, settles balanced cases with
// a terminal COMPLETED or INCOMPLETE run marker, and disables its own
// schedule rule once the ledger drains.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/lambdaboot"
	"github.com/docviewer/docpdf-pipeline/internal/logging"
	"github.com/docviewer/docpdf-pipeline/internal/metrics"
	"github.com/docviewer/docpdf-pipeline/internal/reconcile"
)

var reconciler *reconcile.Reconciler

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	store := lambdaboot.InitStore(clients.Config)
	mainBucket := lambdaboot.RequireBucket("MAIN_BUCKET_NAME")
	ldg := lambdaboot.InitLedger(clients)

	ruleName := os.Getenv("RECONCILER_RULE_NAME")
	if ruleName == "" {
		log.Warn().Msg("RECONCILER_RULE_NAME not set, reconciler will not self-quiesce")
	}

	reconciler = reconcile.New(store, ldg,
		reconcile.EventBridgeRules{Client: lambdaboot.InitEventBridge(clients.Config)},
		reconcile.Config{MainBucket: mainBucket, RuleName: ruleName})

	lambdaboot.StartupLog("reconciler-lambda", initStart).
		S3Bucket("main", mainBucket).
		Rule("self", ruleName).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event events.CloudWatchEvent) error {
	start := time.Now()
	log.Info().Str("scheduleTime", event.Time.Format(time.RFC3339)).Msg("Reconciliation sweep starting")

	err := reconciler.Run(ctx)

	metrics.ForCase("reconcile", "").
		Count("SweepFailed", boolToInt(err != nil)).
		Duration("SweepDurationMs", time.Since(start)).
		Flush()
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
