// Package runtime provides the Runtime interface for toolchain stage execution backends.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerWorkDir is where the workspace is mounted inside the container.
const ContainerWorkDir = "/workspace"

// DockerRuntime implements the Runtime interface using the Docker SDK.
// The host workspace is bind-mounted at ContainerWorkDir and used as the
// container's working directory.
type DockerRuntime struct {
	client *client.Client
	image  string
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string

	logsDone chan struct{}
	logsErr  error

	removeOnce sync.Once
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// NewDockerRuntime creates a new Docker-based runtime. defaultImage is used
// when StartOptions.Image is empty.
func NewDockerRuntime(defaultImage string) (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli, image: defaultImage}, nil
}

// Ping checks that the Docker daemon is reachable.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, ErrEmptyCommand
	}
	img := opts.Image
	if img == "" {
		img = d.image
	}
	if opts.Dir == "" {
		return nil, errors.New("workspace directory is required")
	}

	// Check if the image exists locally first to save time.
	if _, _, err := d.client.ImageInspectWithRaw(ctx, img); err != nil {
		reader, err := d.client.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", img, err)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	containerConfig := &container.Config{
		Image:      img,
		Cmd:        opts.Command,
		Env:        mapToEnvList(opts.Env),
		WorkingDir: ContainerWorkDir,
		Tty:        false,
	}
	hostConfig := &container.HostConfig{
		Binds: []string{opts.Dir + ":" + ContainerWorkDir},
	}
	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	h := &DockerHandle{
		client:      d.client,
		containerID: resp.ID,
		logsDone:    make(chan struct{}),
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		h.remove()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	logs, err := d.client.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		h.remove()
		return nil, fmt.Errorf("failed to attach container logs: %w", err)
	}
	go func() {
		defer close(h.logsDone)
		defer logs.Close()
		// Non-TTY containers multiplex stdout and stderr over one stream.
		_, h.logsErr = stdcopy.StdCopy(writerOrDiscard(opts.Stdout), writerOrDiscard(opts.Stderr), logs)
	}()

	return h, nil
}

// Wait implements Handle.Wait. The container is removed once it has stopped.
func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		h.kill()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		<-h.logsDone
		h.remove()
		if status.Error != nil {
			return ExitResult{
				ExitCode: int(status.StatusCode),
				Error:    fmt.Errorf("%s", status.Error.Message),
			}, nil
		}
		return ExitResult{ExitCode: int(status.StatusCode), Error: h.logsErr}, nil
	case <-ctx.Done():
		h.kill()
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop implements Handle.Stop.
func (h *DockerHandle) Stop(ctx context.Context) error {
	timeout := int(stopGrace / time.Second)
	err := h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout})
	h.remove()
	if client.IsErrNotFound(err) {
		// Already removed by Wait.
		return nil
	}
	return err
}

// kill force-removes the container and waits for the log pump to drain.
func (h *DockerHandle) kill() {
	h.remove()
	<-h.logsDone
}

func (h *DockerHandle) remove() {
	h.removeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
	})
}
