package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultRuntimeImage         = "ollama/ollama:latest"
	DefaultRuntimeContainerName = "magicscan-model"
	DefaultRuntimePort          = "11434"
	runtimeContainerPort        = "11434/tcp"
	runtimeModelsDir            = "/root/.ollama"
	runtimeLabel                = "magicscan-model"
)

// DockerRuntimeConfig holds configuration for the container runtime.
type DockerRuntimeConfig struct {
	ContainerName string
	Image         string
	HostPort      string
	Model         string // pulled into the runtime on start
	ModelsPath    string // host path for model weights (optional)
	Labels        map[string]string
	ReadyTimeout  time.Duration
}

// DockerRuntime serves a model from an Ollama container managed through the Docker API.
type DockerRuntime struct {
	cli           *client.Client
	containerName string
	imageName     string
	hostPort      string
	model         string
	modelsPath    string
	labels        map[string]string
	readyTimeout  time.Duration
	httpClient    *http.Client
}

// NewDockerRuntime creates a runtime backed by the local Docker daemon.
func NewDockerRuntime(cfg DockerRuntimeConfig) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultRuntimeContainerName
	}
	if cfg.Image == "" {
		cfg.Image = DefaultRuntimeImage
	}
	if cfg.HostPort == "" {
		cfg.HostPort = DefaultRuntimePort
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLocalModel
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}

	labels := map[string]string{runtimeLabel: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	return &DockerRuntime{
		cli:           cli,
		containerName: cfg.ContainerName,
		imageName:     cfg.Image,
		hostPort:      cfg.HostPort,
		model:         cfg.Model,
		modelsPath:    cfg.ModelsPath,
		labels:        labels,
		readyTimeout:  cfg.ReadyTimeout,
		httpClient:    &http.Client{Timeout: 2 * time.Second},
	}, nil
}

// Name returns the runtime identifier.
func (r *DockerRuntime) Name() string { return "docker" }

// URL returns the runtime's root URL.
func (r *DockerRuntime) URL() string {
	return fmt.Sprintf("http://localhost:%s", r.hostPort)
}

// Start ensures the container is running and the model is pulled.
func (r *DockerRuntime) Start(ctx context.Context) (string, error) {
	if _, err := r.cli.Ping(ctx); err != nil {
		return "", fmt.Errorf("docker is not running: %w", err)
	}

	status, containerID, err := r.containerStatus(ctx)
	if err != nil {
		return "", err
	}

	switch status {
	case "running":
	case "exited", "dead", "created":
		if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return "", fmt.Errorf("failed to start existing container: %w", err)
		}
	case "":
		if err := r.createAndStart(ctx); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("container in unexpected state: %s", status)
	}

	if err := r.waitForReady(ctx); err != nil {
		return "", fmt.Errorf("runtime not ready: %w", err)
	}
	if err := r.pullModel(ctx); err != nil {
		return "", err
	}
	return r.URL() + "/v1", nil
}

// Stop stops the container, unloading the model from memory.
func (r *DockerRuntime) Stop(ctx context.Context) error {
	status, containerID, err := r.containerStatus(ctx)
	if err != nil {
		return err
	}
	if status != "running" {
		return nil
	}

	timeout := 10
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove stops and deletes the container.
func (r *DockerRuntime) Remove(ctx context.Context) error {
	status, containerID, err := r.containerStatus(ctx)
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Close closes the Docker client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Status returns the container state ("running", "exited", ...) or
// "not_found" when no container exists.
func (r *DockerRuntime) Status(ctx context.Context) (string, error) {
	status, _, err := r.containerStatus(ctx)
	if err != nil {
		return "", err
	}
	if status == "" {
		return "not_found", nil
	}
	return status, nil
}

// Logs returns the last tail lines of the container's output.
func (r *DockerRuntime) Logs(ctx context.Context, tail string) (string, error) {
	status, containerID, err := r.containerStatus(ctx)
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", fmt.Errorf("container %s not found", r.containerName)
	}

	logs, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer logs.Close()

	data, err := io.ReadAll(logs)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(data), nil
}

func (r *DockerRuntime) createAndStart(ctx context.Context) error {
	if err := r.ensureImage(ctx); err != nil {
		return err
	}

	containerConfig := &container.Config{
		Image:  r.imageName,
		Labels: r.labels,
		ExposedPorts: nat.PortSet{
			runtimeContainerPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			runtimeContainerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: r.hostPort},
			},
		},
	}
	if r.modelsPath != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: r.modelsPath,
			Target: runtimeModelsDir,
		}}
	}

	resp, err := r.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, r.containerName)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// containerStatus returns the docker state and ID, or "" if no container exists.
func (r *DockerRuntime) containerStatus(ctx context.Context) (string, string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", r.containerName)

	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return "", "", nil
	}
	return string(containers[0].State), containers[0].ID, nil
}

func (r *DockerRuntime) waitForReady(ctx context.Context) error {
	url := r.URL() + "/api/tags"
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := r.httpClient.Do(req)
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.readyTimeout.Seconds())),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
	)
}

// pullModel asks the runtime to fetch model weights; a no-op when already present.
func (r *DockerRuntime) pullModel(ctx context.Context) error {
	body, _ := json.Marshal(map[string]any{"model": r.model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL()+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Pulls can take many minutes; bound them only by ctx.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to pull model %s: %w", r.model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("failed to pull model %s (status %d): %s", r.model, resp.StatusCode, msg)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (r *DockerRuntime) ensureImage(ctx context.Context) error {
	if _, err := r.cli.ImageInspect(ctx, r.imageName); err == nil {
		return nil
	}

	reader, err := r.cli.ImagePull(ctx, r.imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

var _ Runtime = (*DockerRuntime)(nil)
