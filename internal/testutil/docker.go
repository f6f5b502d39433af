package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// CleanupLabel marks model runtime containers started by tests. Its value is
// the owning test's name.
const CleanupLabel = "magicscan-test"

// TestingT is the part of testing.T the Docker helpers need.
type TestingT interface {
	Name() string
	Cleanup(func())
	Logf(format string, args ...any)
	Skipf(format string, args ...any)
	Helper()
}

// DockerClient returns a client for the local daemon and removes the test's
// runtime containers when the test ends. Skips the test when no daemon answers.
func DockerClient(t TestingT) *client.Client {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		t.Skipf("docker is not running: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := removeLabelled(ctx, cli, CleanupLabel+"="+t.Name())
		if err != nil {
			t.Logf("runtime cleanup: %v", err)
		} else if n > 0 {
			t.Logf("removed %d runtime container(s)", n)
		}
		cli.Close()
	})

	return cli
}

// RuntimeContainerName names a model runtime container for t, e.g.
// magicscan-test-runtime-TestDockerRuntime-Lifecycle-1a2b3c4d.
func RuntimeContainerName(t TestingT, role string) string {
	t.Helper()
	return strings.Join([]string{CleanupLabel, role, containerSafe(t.Name()), randHex(4)}, "-")
}

// RuntimeLabels returns the labels that tie a runtime container to t.
func RuntimeLabels(t TestingT) map[string]string {
	return map[string]string{CleanupLabel: t.Name()}
}

// RemoveStaleRuntimes removes runtime containers left by interrupted test runs
// of any test. Returns how many were removed.
func RemoveStaleRuntimes(ctx context.Context, cli *client.Client) (int, error) {
	return removeLabelled(ctx, cli, CleanupLabel)
}

// removeLabelled force-removes every container matching the label filter.
func removeLabelled(ctx context.Context, cli *client.Client, label string) (int, error) {
	args := filters.NewArgs()
	args.Add("label", label)

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return 0, fmt.Errorf("failed to list runtime containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		timeout := 10
		_ = cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout})
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return removed, fmt.Errorf("failed to remove container %s: %w", c.ID[:12], err)
		}
		removed++
	}
	return removed, nil
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// containerSafe keeps the characters Docker accepts in names, capped at 30.
func containerSafe(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '/' || r == '_' || r == '-':
			b.WriteByte('-')
		}
		if b.Len() == 30 {
			break
		}
	}
	return b.String()
}
