package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cartpry/pentestorch/catalog"
)

// RunSpec is a single container invocation request (spec.md §4.5
// "Container invocation").
type RunSpec struct {
	Image   string
	Argv    []string
	Mounts  []catalog.Mount
	Timeout time.Duration
}

// RunOutput is the raw result of a container invocation, before per-tool
// output parsing.
type RunOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ContainerRuntime runs one containerized tool invocation to completion and
// reports its exit status and captured output. Abstracted so the Execution
// Engine's pipeline logic can be tested without a Docker daemon.
type ContainerRuntime interface {
	Run(ctx context.Context, spec RunSpec) (RunOutput, error)
}

// dockerRuntime is the default ContainerRuntime, backed by testcontainers-go
// (spec.md §3 domain stack: container orchestration for tool sandboxing).
type dockerRuntime struct{}

// NewDockerRuntime returns the default ContainerRuntime, invoking tools as
// short-lived, one-shot Docker containers.
func NewDockerRuntime() ContainerRuntime {
	return dockerRuntime{}
}

func (dockerRuntime) Run(ctx context.Context, spec RunSpec) (RunOutput, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	req := testcontainers.ContainerRequest{
		Image:      spec.Image,
		Cmd:        spec.Argv,
		WaitingFor: wait.ForExit(),
	}
	for _, m := range spec.Mounts {
		mount := testcontainers.BindMount(m.HostPath, testcontainers.ContainerMountTarget(m.ContainerPath))
		mount.ReadOnly = m.ReadOnly
		req.Mounts = append(req.Mounts, mount)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return RunOutput{}, fmt.Errorf("start container for %s: %w", spec.Image, err)
	}
	defer func() {
		_ = container.Terminate(context.Background())
	}()

	state, stateErr := container.State(ctx)
	exitCode := -1
	if stateErr == nil && state != nil {
		exitCode = state.ExitCode
	}

	logs, logErr := container.Logs(ctx)
	var stdout string
	if logErr == nil {
		defer logs.Close()
		if b, readErr := io.ReadAll(logs); readErr == nil {
			stdout = string(b)
		}
	}

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return RunOutput{ExitCode: exitCode, Stdout: stdout}, fmt.Errorf("execution timeout: %w", ctx.Err())
		}
		return RunOutput{ExitCode: exitCode, Stdout: stdout}, fmt.Errorf("cancelled: %w", ctx.Err())
	}

	return RunOutput{ExitCode: exitCode, Stdout: stdout}, nil
}
