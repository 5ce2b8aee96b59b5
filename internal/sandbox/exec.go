package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// execIn runs one command inside a container and demultiplexes the
// attached stream into stdout and stderr.
func (m *Manager) execIn(ctx context.Context, containerID, command string) (*Result, error) {
	exec, err := m.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := m.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("exec stream: %w", err)
		}
	}

	inspect, err := m.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}
	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// df inside the container reports host-level filesystem numbers, which
// mislead both the model and the user. The command is rewritten to a
// workspace du with the advertised soft limit.
var dfCommand = regexp.MustCompile(`^\s*df(\s|$)`)

func rewriteDF(command string, softLimitMB int) string {
	if !dfCommand.MatchString(command) {
		return command
	}
	return fmt.Sprintf(`du -sh /workspace && echo "workspace soft limit: %d MB"`, softLimitMB)
}

// workspaceSizeNote returns a warning suffix once the user's workspace
// has grown past the soft limit, measured on the host side.
func (m *Manager) workspaceSizeNote(userID int64) string {
	if m.softLimitMB <= 0 {
		return ""
	}
	dir := filepath.Join(m.workspaceRoot, strconv.FormatInt(userID, 10))
	size := dirSize(dir)
	sizeMB := size / (1024 * 1024)
	if sizeMB <= int64(m.softLimitMB) {
		return ""
	}
	return fmt.Sprintf("\n\n⚠️ Workspace size %d MB exceeds the %d MB soft limit. Consider cleaning up old files.",
		sizeMB, m.softLimitMB)
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

// CombinedOutput flattens a Result the way shell tools report it.
func (r *Result) CombinedOutput() string {
	var b strings.Builder
	b.WriteString(r.Stdout)
	if r.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.Stderr)
	}
	if r.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "(exit code %d)", r.ExitCode)
	}
	return b.String()
}
