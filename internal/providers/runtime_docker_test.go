package providers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackzampolin/magicscan/internal/testutil"
)

// TestDockerRuntime_Lifecycle runs a real model container. It pulls an image
// and a model, so it only runs when MAGICSCAN_RUNTIME_TEST names the model.
func TestDockerRuntime_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	model := os.Getenv("MAGICSCAN_RUNTIME_TEST")
	if model == "" {
		t.Skip("set MAGICSCAN_RUNTIME_TEST=<model> to run")
	}

	cli := testutil.DockerClient(t)
	if n, err := testutil.RemoveStaleRuntimes(context.Background(), cli); err != nil {
		t.Fatalf("RemoveStaleRuntimes() error = %v", err)
	} else if n > 0 {
		t.Logf("removed %d stale runtime container(s)", n)
	}

	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}

	rt, err := NewDockerRuntime(DockerRuntimeConfig{
		ContainerName: testutil.RuntimeContainerName(t, "runtime"),
		HostPort:      port,
		Model:         model,
		ModelsPath:    t.TempDir(),
		Labels:        testutil.RuntimeLabels(t),
		ReadyTimeout:  2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewDockerRuntime() error = %v", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	status, err := rt.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != "not_found" {
		t.Fatalf("Status() before start = %q, want not_found", status)
	}

	baseURL, err := rt.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if baseURL != rt.URL()+"/v1" {
		t.Errorf("Start() = %q, want %q", baseURL, rt.URL()+"/v1")
	}
	if status, _ := rt.Status(ctx); status != "running" {
		t.Errorf("Status() after start = %q, want running", status)
	}
	if _, err := rt.Logs(ctx, "10"); err != nil {
		t.Errorf("Logs() error = %v", err)
	}

	// A second start attaches to the running container.
	if _, err := rt.Start(ctx); err != nil {
		t.Errorf("second Start() error = %v", err)
	}

	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if status, _ := rt.Status(ctx); status == "running" {
		t.Error("container still running after Stop()")
	}

	if err := rt.Remove(ctx); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if status, _ := rt.Status(ctx); status != "not_found" {
		t.Errorf("Status() after remove = %q, want not_found", status)
	}
}
