package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog/log"
)

// ObjectConverter is the capability of converting directly between object
// store keys: the collaborator downloads the input and uploads the output
// itself. The Worker prefers this path when a Converter implements it.
type ObjectConverter interface {
	ConvertObject(ctx context.Context, inputKey, outputKey string) Outcome
}

// lambdaAPI is the subset of the Lambda client used by RemoteConverter.
type lambdaAPI interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// RemoteConverter converts office documents by synchronously invoking the
// docconvert Lambda, which carries the LibreOffice runtime the worker
// image does not.
type RemoteConverter struct {
	client      lambdaAPI
	functionARN string
}

// NewRemoteConverter wires a Lambda-backed converter.
func NewRemoteConverter(client *awslambda.Client, functionARN string) *RemoteConverter {
	return &RemoteConverter{client: client, functionARN: functionARN}
}

// docConvertRequest is the payload contract with the docconvert Lambda.
type docConvertRequest struct {
	S3InputFile  string `json:"s3_input_file"`
	S3OutputFile string `json:"s3_output_file"`
}

type docConvertResponse struct {
	Response bool `json:"response"`
}

// Convert satisfies Converter but office conversion never runs on local
// paths; the Worker must use ConvertObject.
func (c *RemoteConverter) Convert(_ context.Context, inputPath, _ string) Outcome {
	return Failure(fmt.Errorf("office document %s requires object-key conversion", inputPath))
}

// ConvertObject invokes the docconvert Lambda for one input/output key pair.
func (c *RemoteConverter) ConvertObject(ctx context.Context, inputKey, outputKey string) Outcome {
	payload, err := json.Marshal(docConvertRequest{S3InputFile: inputKey, S3OutputFile: outputKey})
	if err != nil {
		return Failure(fmt.Errorf("marshal docconvert request: %w", err))
	}

	log.Debug().Str("inputKey", inputKey).Str("function", c.functionARN).Msg("Invoking docconvert Lambda")
	out, err := c.client.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName: aws.String(c.functionARN),
		Payload:      payload,
	})
	if err != nil {
		return Failure(fmt.Errorf("invoke docconvert: %w", err))
	}
	if out.FunctionError != nil {
		return Failure(fmt.Errorf("docconvert failed: %s", aws.ToString(out.FunctionError)))
	}

	var resp docConvertResponse
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return Failure(fmt.Errorf("decode docconvert response: %w", err))
	}
	if !resp.Response {
		return Failure(errors.New("docconvert reported conversion failure"))
	}
	return Success()
}
