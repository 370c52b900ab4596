package nre

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// NewCommandModel builds a Model that shells out to an external simulator
// binary once per parameter point. Parameters are written to the
// process's stdin as a JSON object of name → value; the process must
// print a JSON object of observable name → numeric array on stdout. Each
// invocation runs in its own scratch directory, removed afterwards, so
// simulators that drop files cannot interfere with each other.
func NewCommandModel(command string, args ...string) Model {
	return func(params map[string]float64) (map[string][]float64, error) {
		dir, err := os.MkdirTemp("", "nre-sim-*")
		if err != nil {
			return nil, fmt.Errorf("creating scratch dir: %w", err)
		}
		defer os.RemoveAll(dir)

		input, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding parameters: %w", err)
		}

		cmd := exec.Command(command, args...)
		cmd.Dir = dir
		cmd.Stdin = bytes.NewReader(input)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("running %s: %w (stderr: %s)", command, err, lastLine(stderr.Bytes()))
		}

		var obs map[string][]float64
		if err := json.Unmarshal(stdout.Bytes(), &obs); err != nil {
			return nil, fmt.Errorf("parsing %s output: %w", command, err)
		}
		return obs, nil
	}
}

// lastLine returns the final non-empty line of output, for error context.
func lastLine(b []byte) string {
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
