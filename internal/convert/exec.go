package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// runTool executes an external conversion tool and classifies the result.
// A non-zero exit with a non-empty output file is a warning completion,
// not a failure: wkhtmltopdf in particular reports recoverable render
// errors through its exit status after writing a usable PDF.
func runTool(ctx context.Context, outputPath, name string, args ...string) Outcome {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return Success()
	}

	toolErr := fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	if st, statErr := os.Stat(outputPath); statErr == nil && st.Size() > 0 {
		log.Debug().Str("tool", name).Str("output", outputPath).Err(toolErr).Msg("Tool exited non-zero but produced output")
		return Warning(toolErr)
	}
	return Failure(toolErr)
}
