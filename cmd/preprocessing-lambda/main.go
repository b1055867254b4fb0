// Package main provides the preprocessing Lambda entry point.
//
// It exposes a single POST endpoint behind API Gateway. A case_level
// request partitions every document folder of a case and registers the
// case's unit total in the job ledger; a doc_level request partitions one
// document folder for an already-registered case. Both re-enable the
// reconciler's schedule rule so the new work gets swept.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/lambdaboot"
	"github.com/docviewer/docpdf-pipeline/internal/logging"
	"github.com/docviewer/docpdf-pipeline/internal/partition"
	"github.com/docviewer/docpdf-pipeline/internal/prepapi"
	"github.com/docviewer/docpdf-pipeline/internal/reconcile"
)

var handler *prepapi.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	store := lambdaboot.InitStore(clients.Config)
	buckets := lambdaboot.InitBuckets()
	ldg := lambdaboot.InitLedger(clients)

	category := logging.EnvOrDefault("CATEGORY_FOLDER_NAME", "exhibits")
	partitioner := partition.New(store, buckets.Main, buckets.Metadata, buckets.Trigger, category)

	ruleName := os.Getenv("RECONCILER_RULE_NAME")
	var rules prepapi.RuleEnabler
	if ruleName != "" {
		rules = reconcile.EventBridgeRules{Client: lambdaboot.InitEventBridge(clients.Config)}
	} else {
		log.Warn().Msg("RECONCILER_RULE_NAME not set, schedule will not be re-enabled")
	}

	handler = prepapi.NewHandler(partitioner, ldg, rules, ruleName)

	lambdaboot.StartupLog("preprocessing-lambda", initStart).
		S3Bucket("main", buckets.Main).
		S3Bucket("metadata", buckets.Metadata).
		S3Bucket("trigger", buckets.Trigger).
		Rule("reconciler", ruleName).
		Config("categoryFolder", category).
		Log()
}

func main() {
	mux := http.NewServeMux()
	mux.Handle("/", handler)

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
