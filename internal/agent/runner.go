package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TaskRunner is the pluggable unit of work a worker executes for each
// claimed job. Implementations read the downloaded input file and return the
// path of the result file to upload.
type TaskRunner interface {
	Name() string
	Run(ctx context.Context, inputPath, workDir string) (outputPath string, err error)
}

var runners = map[string]TaskRunner{}

// RegisterRunner makes a runner selectable by name.
func RegisterRunner(r TaskRunner) {
	runners[r.Name()] = r
}

// LookupRunner resolves a runner by name, falling back to the default runner
// when name is empty.
func LookupRunner(name string) (TaskRunner, error) {
	if name == "" {
		name = "default"
	}
	r, ok := runners[name]
	if !ok {
		return nil, fmt.Errorf("unknown task runner %q", name)
	}
	return r, nil
}

func init() {
	RegisterRunner(DefaultRunner{})
}

// DefaultRunner copies the input into the output with a processed banner.
// It exists so a cluster works end to end before any real runner is wired in.
type DefaultRunner struct{}

func (DefaultRunner) Name() string { return "default" }

func (DefaultRunner) Run(ctx context.Context, inputPath, workDir string) (string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(workDir, base+"_output.txt")

	var out strings.Builder
	out.WriteString("Processed by default runner\n\n")
	out.Write(data)

	if err := os.WriteFile(outputPath, []byte(out.String()), 0644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return outputPath, nil
}
