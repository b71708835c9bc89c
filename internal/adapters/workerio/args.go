package workerio

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

// EncodeArgs renders spec as the worker's command-line flags.
func EncodeArgs(spec domain.WorkerSpec) []string {
	args := []string{
		"--job-id=" + string(spec.JobID),
		"--input=" + spec.InputRef,
		"--display-name=" + spec.DisplayName,
		"--workspace=" + spec.WorkspaceDir,
	}
	if spec.LanguageHint != "" {
		args = append(args, "--language="+spec.LanguageHint)
	}
	if spec.ModelSize != "" {
		args = append(args, "--model-size="+spec.ModelSize)
	}
	return args
}

// DecodeArgs parses flags produced by EncodeArgs.
func DecodeArgs(args []string, stderr io.Writer) (domain.WorkerSpec, error) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var spec domain.WorkerSpec
	var jobID string
	fs.StringVar(&jobID, "job-id", "", "job id")
	fs.StringVar(&spec.InputRef, "input", "", "path to the uploaded video")
	fs.StringVar(&spec.DisplayName, "display-name", "", "original file name")
	fs.StringVar(&spec.WorkspaceDir, "workspace", "", "scratch directory for this job")
	fs.StringVar(&spec.LanguageHint, "language", "", "language hint, empty for auto-detect")
	fs.StringVar(&spec.ModelSize, "model-size", "base", "speech model size")
	if err := fs.Parse(args); err != nil {
		return domain.WorkerSpec{}, err
	}

	spec.JobID = domain.JobID(strings.TrimSpace(jobID))
	if spec.JobID == "" {
		return domain.WorkerSpec{}, fmt.Errorf("worker requires --job-id")
	}
	if strings.TrimSpace(spec.InputRef) == "" {
		return domain.WorkerSpec{}, fmt.Errorf("worker requires --input")
	}
	if spec.DisplayName == "" {
		spec.DisplayName = spec.InputRef
	}
	return spec, nil
}
