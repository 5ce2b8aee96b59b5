// Package sandbox runs agent shell commands inside per-user Docker
// containers. Each user gets one container, one mounted workspace and
// a deterministic ten-port window.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/sandbotdev/sandbot/internal/bus"
	"github.com/sandbotdev/sandbot/internal/config"
	"github.com/sandbotdev/sandbot/internal/metrics"
)

// ErrUnavailable reports that the container runtime cannot be reached.
var ErrUnavailable = errors.New("sandbox_failed: container runtime unavailable")

const (
	portsPerUser = 10
	portWindows  = 10
	stopGrace    = 5 // seconds
)

// sentinel keeps the container alive between commands.
var sentinelCmd = []string{"sh", "-c", "sleep infinity"}

// Result is the outcome of one command executed in a sandbox.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type box struct {
	id       string
	lastUsed time.Time
}

// dockerAPI is the slice of the Engine API client the manager uses.
// *client.Client satisfies it; tests substitute a fake.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Manager owns the per-user container lifecycle.
type Manager struct {
	cli           dockerAPI
	cfg           config.SandboxConfig
	workspaceRoot string
	softLimitMB   int
	events        bus.EventPublisher
	logger        *slog.Logger

	mu    sync.Mutex
	boxes map[int64]*box
}

// NewManager connects to the Docker daemon. A failed ping does not
// fail construction; Available reports the degraded state and every
// Exec returns ErrUnavailable until the daemon comes back.
func NewManager(ctx context.Context, cfg config.SandboxConfig, ws config.WorkspaceConfig, events bus.EventPublisher) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	m := &Manager{
		cli:           cli,
		cfg:           cfg,
		workspaceRoot: config.ExpandHome(ws.Root),
		softLimitMB:   ws.SoftLimitMB,
		events:        events,
		logger:        slog.With("component", "sandbox"),
	}
	if _, err := cli.Ping(ctx); err != nil {
		m.logger.Warn("docker daemon unreachable, sandbox degraded", "error", err)
	}
	return m, nil
}

// Available reports whether the daemon currently answers pings.
func (m *Manager) Available(ctx context.Context) bool {
	_, err := m.cli.Ping(ctx)
	return err == nil
}

// ContainerName is the deterministic per-user name. A stale container
// from a crashed previous run is found by this name and replaced.
func ContainerName(userID int64) string {
	return fmt.Sprintf("sandbox_%d", userID)
}

// PortWindow returns the ten host ports published for a user. The
// window depends only on userID mod 10, so at most ten users hold
// distinct windows at once.
func PortWindow(base int, userID int64) []int {
	start := base + int(((userID%portWindows)+portWindows)%portWindows)*portsPerUser
	ports := make([]int, portsPerUser)
	for i := range ports {
		ports[i] = start + i
	}
	return ports
}

// Exec runs a shell command in the user's sandbox, provisioning the
// container on first use. The command runs with the user's workspace
// as working directory and is bounded by the configured timeout.
func (m *Manager) Exec(ctx context.Context, userID int64, command string) (*Result, error) {
	id, err := m.ensure(ctx, userID)
	if err != nil {
		metrics.SandboxCommands.WithLabelValues("error").Inc()
		return nil, err
	}

	command = rewriteDF(command, m.softLimitMB)

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.CommandTimeoutSec)*time.Second)
	defer cancel()

	res, err := m.execIn(execCtx, id, command)
	m.touch(userID)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			metrics.SandboxCommands.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("sandbox_failed: command timed out after %ds", m.cfg.CommandTimeoutSec)
		}
		metrics.SandboxCommands.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("sandbox_failed: %w", err)
	}
	metrics.SandboxCommands.WithLabelValues("ok").Inc()

	if note := m.workspaceSizeNote(userID); note != "" {
		res.Stdout += note
	}
	return res, nil
}

// ensure returns the container ID for the user, creating or replacing
// the container as needed.
func (m *Manager) ensure(ctx context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.boxes[userID]; ok {
		return b.id, nil
	}
	if m.boxes == nil {
		m.boxes = map[int64]*box{}
	}

	if _, err := m.cli.Ping(ctx); err != nil {
		return "", ErrUnavailable
	}

	name := ContainerName(userID)

	// A previous run may have left a container behind under our name.
	existing, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return "", fmt.Errorf("sandbox_failed: list containers: %w", err)
	}
	for _, c := range existing {
		if c.State == "running" {
			m.logger.Info("reusing running sandbox", "user_id", userID, "container", shortID(c.ID))
			m.publish(userID, "reused", "")
			m.boxes[userID] = &box{id: c.ID, lastUsed: time.Now()}
			metrics.SandboxesActive.Inc()
			return c.ID, nil
		}
		m.logger.Info("replacing stale sandbox", "user_id", userID, "state", c.State)
		if err := m.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return "", fmt.Errorf("sandbox_failed: remove stale container: %w", err)
		}
		m.publish(userID, "replaced", "")
	}

	id, err := m.create(ctx, userID, name)
	if err != nil {
		m.publish(userID, "failed", err.Error())
		return "", err
	}
	m.boxes[userID] = &box{id: id, lastUsed: time.Now()}
	metrics.SandboxesActive.Inc()
	m.publish(userID, "created", "")
	return id, nil
}

func (m *Manager) create(ctx context.Context, userID int64, name string) (string, error) {
	workspace := filepath.Join(m.workspaceRoot, strconv.FormatInt(userID, 10))

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range PortWindow(m.cfg.PortBase, userID) {
		port := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(p)}}
	}

	memBytes := int64(m.cfg.MemoryMB) * 1024 * 1024
	pids := int64(m.cfg.PidsLimit)
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: "/workspace",
		}},
		PortBindings: bindings,
		SecurityOpt:  []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     memBytes,
			MemorySwap: memBytes, // equal to memory: swap disabled
			NanoCPUs:   int64(m.cfg.CPUs * 1e9),
			PidsLimit:  &pids,
		},
	}
	cfg := &container.Config{
		Image:        m.cfg.Image,
		Cmd:          sentinelCmd,
		WorkingDir:   "/workspace",
		ExposedPorts: exposed,
		Labels:       map[string]string{"app": "sandbot", "user_id": strconv.FormatInt(userID, 10)},
	}

	created, err := m.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("sandbox_failed: create container: %w", err)
	}
	if err := m.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// Half-built containers are destroyed, not left for reuse.
		_ = m.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox_failed: start container: %w", err)
	}

	m.bootstrap(ctx, created.ID)
	m.logger.Info("sandbox provisioned", "user_id", userID, "container", shortID(created.ID),
		"ports", PortWindow(m.cfg.PortBase, userID)[0])
	return created.ID, nil
}

// bootstrap installs the baseline tool set once per container. Failure
// is logged, not fatal: the image normally ships the tools already.
func (m *Manager) bootstrap(ctx context.Context, containerID string) {
	check := "command -v curl >/dev/null 2>&1 && command -v git >/dev/null 2>&1"
	install := "(apk add --no-cache curl git python3 >/dev/null 2>&1) || " +
		"(apt-get update -qq >/dev/null 2>&1 && apt-get install -y -qq curl git python3 >/dev/null 2>&1)"
	res, err := m.execIn(ctx, containerID, check+" || ("+install+")")
	if err != nil || res.ExitCode != 0 {
		m.logger.Warn("sandbox tool bootstrap incomplete", "container", shortID(containerID), "error", err)
	}
}

func (m *Manager) touch(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.boxes[userID]; ok {
		b.lastUsed = time.Now()
	}
}

// Remove stops and deletes one user's sandbox.
func (m *Manager) Remove(ctx context.Context, userID int64) error {
	m.mu.Lock()
	b, ok := m.boxes[userID]
	if ok {
		delete(m.boxes, userID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.destroy(ctx, userID, b.id)
}

func (m *Manager) destroy(ctx context.Context, userID int64, containerID string) error {
	grace := stopGrace
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		m.logger.Warn("sandbox stop failed, forcing removal", "user_id", userID, "error", err)
	}
	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	metrics.SandboxesActive.Dec()
	m.publish(userID, "removed", "")
	m.logger.Info("sandbox removed", "user_id", userID)
	return nil
}

// Shutdown removes every live sandbox. Called on process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	boxes := m.boxes
	m.boxes = map[int64]*box{}
	m.mu.Unlock()
	for userID, b := range boxes {
		if err := m.destroy(ctx, userID, b.id); err != nil {
			m.logger.Warn("shutdown cleanup failed", "user_id", userID, "error", err)
		}
	}
}

func (m *Manager) publish(userID int64, state, detail string) {
	if m.events == nil {
		return
	}
	m.events.Broadcast(bus.Now(bus.EventSandbox, bus.SandboxPayload{UserID: userID, State: state, Detail: detail}))
}
