// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the pipeline needs some subset of: AWS config, the
// bucket layout, the job ledger, EventBridge, and startup logging. This
// package extracts the common init patterns so each Lambda's init() is a
// short composition of helpers. Missing required configuration is fatal
// at cold start, never discovered mid-invocation.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/docviewer/docpdf-pipeline/internal/ledger"
	"github.com/docviewer/docpdf-pipeline/internal/logging"
	"github.com/docviewer/docpdf-pipeline/internal/objstore"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// Buckets is the pipeline's bucket layout, read from the environment.
type Buckets struct {
	Main         string
	Metadata     string
	Trigger      string
	MergeTrigger string
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitStore creates the S3-backed object store.
func InitStore(cfg aws.Config) *objstore.S3Store {
	return objstore.NewS3Store(s3.NewFromConfig(cfg))
}

// RequireBucket reads a bucket name from the given environment variable.
// Fatals if the env var is empty.
func RequireBucket(envVar string) string {
	bucket := os.Getenv(envVar)
	if bucket == "" {
		log.Fatal().Str("envVar", envVar).Msg("Bucket environment variable is required")
	}
	return bucket
}

// InitBuckets reads the full bucket layout. All four are required.
func InitBuckets() Buckets {
	return Buckets{
		Main:         RequireBucket("MAIN_BUCKET_NAME"),
		Metadata:     RequireBucket("METADATA_BUCKET_NAME"),
		Trigger:      RequireBucket("TRIGGER_BUCKET_NAME"),
		MergeTrigger: RequireBucket("MERGE_TRIGGER_BUCKET_NAME"),
	}
}

// InitLedger creates the Data API job ledger. The cluster and secret ARNs
// come from LEDGER_CLUSTER_ARN / LEDGER_SECRET_ARN, with SSM Parameter
// Store fallbacks for deployments that keep ARNs out of function config.
// Fatals when neither source yields a value.
func InitLedger(clients AWSClients) *ledger.DataAPILedger {
	clusterARN := envOrSSM(clients.SSM, "LEDGER_CLUSTER_ARN", "SSM_LEDGER_CLUSTER_PARAM", false)
	secretARN := envOrSSM(clients.SSM, "LEDGER_SECRET_ARN", "SSM_LEDGER_SECRET_PARAM", true)
	database := os.Getenv("LEDGER_DATABASE")
	if database == "" {
		log.Fatal().Str("envVar", "LEDGER_DATABASE").Msg("Ledger database name is required")
	}
	return ledger.NewDataAPILedger(rdsdata.NewFromConfig(clients.Config), clusterARN, secretARN, database)
}

// InitEventBridge creates the EventBridge client for schedule-rule control.
func InitEventBridge(cfg aws.Config) *eventbridge.Client {
	return eventbridge.NewFromConfig(cfg)
}

// InitLambdaClient creates the Lambda client for function-to-function invokes.
func InitLambdaClient(cfg aws.Config) *awslambda.Client {
	return awslambda.NewFromConfig(cfg)
}

// envOrSSM resolves a required value from the environment, falling back to
// the SSM parameter named by paramEnvVar. Fatals if both are unset or the
// parameter read fails.
func envOrSSM(ssmClient *ssm.Client, envVar, paramEnvVar string, decrypt bool) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	paramName := os.Getenv(paramEnvVar)
	if paramName == "" {
		log.Fatal().Str("envVar", envVar).Str("paramEnvVar", paramEnvVar).
			Msg("Required value set in neither environment nor SSM parameter name")
	}
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(decrypt),
	})
	if err != nil {
		log.Fatal().Err(err).Str("param", paramName).Msg("Failed to read parameter from SSM")
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Parameter loaded from SSM")
	return *result.Parameter.Value
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
