// Package sandbox wraps the Docker Engine API for the run_command tool's
// isolated command execution, adapted from pkg/docker's client for the
// narrower run-to-completion shape a single tool call needs: create,
// start, wait, collect logs, remove, with the resource and network
// limits a sandboxed shell command requires.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// Limits bounds a single command execution, mirroring the sandbox
// configuration a run_command tool call declares up front.
type Limits struct {
	Image      string
	MemoryMB   int64
	NanoCPUs   int64 // e.g. 1e9 for one CPU
	NetworkOff bool
	Timeout    time.Duration
}

// DefaultLimits matches the closed-network, single-CPU, half-gigabyte
// sandbox profile the run_command tool uses when the caller supplies no
// override.
func DefaultLimits() Limits {
	return Limits{
		Image:      "alpine:latest",
		MemoryMB:   512,
		NanoCPUs:   1_000_000_000,
		NetworkOff: true,
		Timeout:    60 * time.Second,
	}
}

// Client wraps the Docker Engine API client for sandboxed execution.
type Client struct {
	cli *client.Client
}

// NewClient creates a Docker client from the ambient environment
// (DOCKER_HOST, etc.).
func NewClient() (*Client, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error { return c.cli.Close() }

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx, client.PingOptions{})
	return err
}

// RunResult is the outcome of one sandboxed command execution.
type RunResult struct {
	ExitCode int64
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Run executes cmd inside a fresh container bound by limits, with
// repoPath (if non-empty) bind-mounted read-write at workingDir. The
// container is always removed before Run returns.
func (c *Client) Run(ctx context.Context, cmd []string, workingDir, repoPath string, limits Limits) (RunResult, error) {
	var binds []string
	if repoPath != "" {
		binds = []string{fmt.Sprintf("%s:%s", repoPath, workingDir)}
	}

	networkMode := container.NetworkMode("bridge")
	if limits.NetworkOff {
		networkMode = container.NetworkMode("none")
	}

	opts := client.ContainerCreateOptions{
		Image: limits.Image,
		Config: &container.Config{
			Cmd:          cmd,
			WorkingDir:   workingDir,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: &container.HostConfig{
			Binds:       binds,
			NetworkMode: networkMode,
			Resources: container.Resources{
				Memory:   limits.MemoryMB * 1024 * 1024,
				NanoCPUs: limits.NanoCPUs,
			},
			Tmpfs: map[string]string{"/tmp": "size=100m"},
		},
	}

	created, err := c.cli.ContainerCreate(ctx, opts)
	if err != nil {
		return RunResult{}, fmt.Errorf("create sandbox container: %w", err)
	}
	containerID := created.ID
	defer c.cli.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{Force: true})

	if _, err := c.cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("start sandbox container: %w", err)
	}

	runCtx := ctx
	cancel := func() {}
	if limits.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
	}
	defer cancel()

	waitResult := c.cli.ContainerWait(runCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})

	var exitCode int64
	select {
	case err := <-waitResult.Error:
		if err != nil {
			return RunResult{}, fmt.Errorf("wait for sandbox container: %w", err)
		}
	case resp := <-waitResult.Result:
		exitCode = resp.StatusCode
	case <-runCtx.Done():
		c.cli.ContainerStop(ctx, containerID, client.ContainerStopOptions{})
		return RunResult{TimedOut: true}, nil
	}

	stdout, err := c.readLogs(ctx, containerID, true, false)
	if err != nil {
		return RunResult{}, err
	}
	stderr, err := c.readLogs(ctx, containerID, false, true)
	if err != nil {
		return RunResult{}, err
	}

	return RunResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

func (c *Client) readLogs(ctx context.Context, containerID string, stdout, stderr bool) (string, error) {
	rc, err := c.cli.ContainerLogs(ctx, containerID, client.ContainerLogsOptions{
		ShowStdout: stdout,
		ShowStderr: stderr,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("read sandbox logs: %w", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
