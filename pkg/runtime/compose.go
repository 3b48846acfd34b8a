package runtime

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/kaspa-aio/controller/pkg/errdefs"
)

// composeRunner invokes the compose CLI plugin for operations that only
// compose can do correctly: materializing profiles from the declarative file
// set and tearing them down again.
type composeRunner struct {
	projectDir  string
	projectName string
}

func newComposeRunner(projectDir, projectName string) *composeRunner {
	return &composeRunner{projectDir: projectDir, projectName: projectName}
}

func (c *composeRunner) run(ctx context.Context, args ...string) (string, error) {
	base := []string{"compose", "--project-directory", c.projectDir}
	if c.projectName != "" {
		base = append(base, "--project-name", c.projectName)
	}
	cmd := exec.CommandContext(ctx, "docker", append(base, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", errdefs.Wrap(err, errdefs.KindRuntimeUnavailable, "compose %s failed: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Up brings the given profiles up detached.
func (c *composeRunner) Up(ctx context.Context, profiles []string) error {
	args := []string{}
	for _, p := range profiles {
		args = append(args, "--profile", p)
	}
	args = append(args, "up", "-d", "--remove-orphans")
	_, err := c.run(ctx, args...)
	return err
}

// Down stops and removes the given profiles' containers. Volumes are kept;
// losing chain data on a profile removal is never acceptable.
func (c *composeRunner) Down(ctx context.Context, profiles []string) error {
	args := []string{}
	for _, p := range profiles {
		args = append(args, "--profile", p)
	}
	args = append(args, "down")
	_, err := c.run(ctx, args...)
	return err
}

// Version returns the compose plugin version.
func (c *composeRunner) Version(ctx context.Context) (string, error) {
	return c.run(ctx, "version", "--short")
}
