package repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/command"
)

// DockerLogSource reads the tail of a container's logs through the docker CLI.
type DockerLogSource struct {
	runner    command.Runner
	container string
	lines     int
	timeout   time.Duration
}

// NewDockerLogSource constructs a log source for container, returning the last lines entries.
func NewDockerLogSource(runner command.Runner, container string, lines int, timeout time.Duration) *DockerLogSource {
	return &DockerLogSource{runner: runner, container: container, lines: lines, timeout: timeout}
}

// Tail returns the recent log output. docker writes container stderr to its own stderr, so both
// streams are included.
func (s *DockerLogSource) Tail(ctx context.Context) (string, error) {
	if s == nil || s.runner == nil {
		return "", fmt.Errorf("log source not configured")
	}
	if s.lines <= 0 {
		return "", nil
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.runner.Run(ctx, []string{"docker", "logs", "--tail", strconv.Itoa(s.lines), s.container})
	if err != nil {
		return "", fmt.Errorf("docker logs %s: %w", s.container, err)
	}
	return res.Combined(), nil
}
