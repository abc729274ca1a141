package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/orchestra-core/orchestra/pkg/models"
)

// ShellConnector runs the task payload as a shell command via "sh -c".
// A non-zero exit is a business failure (the command ran and failed); a
// failure to launch the process is a connector error.
type ShellConnector struct {
	// WorkDir is the working directory for commands; empty means inherit.
	WorkDir string
}

// NewShellConnector creates a ShellConnector rooted at workDir.
func NewShellConnector(workDir string) *ShellConnector {
	return &ShellConnector{WorkDir: workDir}
}

// Invoke implements Connector.
func (c *ShellConnector) Invoke(ctx context.Context, task *models.Task) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", task.Payload)
	if c.WorkDir != "" {
		cmd.Dir = c.WorkDir
	}

	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")
	if err == nil {
		return output, nil
	}

	if ctx.Err() != nil {
		// Let the engine classify timeout vs cancellation.
		return output, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := fmt.Sprintf("command exited with code %d", exitErr.ExitCode())
		if output != "" {
			detail = fmt.Sprintf("%s: %s", detail, output)
		}
		return output, &BusinessError{Detail: detail}
	}

	return output, fmt.Errorf("launch command: %w", err)
}

// Verify ShellConnector implements Connector at compile time.
var _ Connector = (*ShellConnector)(nil)
