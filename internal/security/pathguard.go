package security

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Directories whose real path no user file operation may reach, even
// through a symlink chain that looks workspace-local on the surface.
var systemDirs = []string{"/etc", "/root", "/home", "/proc", "/sys", "/dev", "/var"}

// Directories the list operation hard-rejects.
var listDenyDirs = []string{
	"/etc", "/root", "/.ssh", "/proc", "/sys", "/dev", "/boot", "/var/log", "/var/run",
}

// PathGuard confines every file operation of one user's agent to that
// user's workspace directory. It is applied to read, write, edit,
// delete, list and search alike; the write path additionally screens
// the content being written.
type PathGuard struct {
	lib    *Library
	root   string // parent of all user workspaces
	logger *slog.Logger
}

func NewPathGuard(lib *Library, workspaceRoot string) *PathGuard {
	return &PathGuard{
		lib:    lib,
		root:   filepath.Clean(workspaceRoot),
		logger: slog.With("component", "pathguard"),
	}
}

// WorkspaceFor returns the workspace directory of one user.
func (g *PathGuard) WorkspaceFor(userID int64) string {
	return filepath.Join(g.root, strconv.FormatInt(userID, 10))
}

// Resolve validates a path for the given user and returns its
// canonical form. The canonical path is what callers must operate on;
// re-deriving it from the raw input would reopen the symlink window.
func (g *PathGuard) Resolve(path string, userID int64) (string, error) {
	workspace := g.WorkspaceFor(userID)

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	// Surface checks before touching the filesystem: the shared root
	// itself, the operator area, and other tenants are never legal
	// targets no matter what the symlink situation is.
	if err := g.checkConfinement(resolved, workspace, userID); err != nil {
		return "", err
	}

	// Sensitive basenames are refused on the surface path too, so a
	// not-yet-existing .env cannot be created either.
	if err := g.checkBasename(resolved); err != nil {
		return "", err
	}

	real, err := g.canonicalize(resolved)
	if err != nil {
		return "", err
	}

	// Confinement is re-checked against the canonical workspace so a
	// symlinked workspace root compares consistently.
	wsReal, werr := filepath.EvalSymlinks(workspace)
	if werr != nil {
		wsReal = workspace // workspace not created yet
	}
	if isPathInside(real, wsReal) {
		if err := g.checkBasename(real); err != nil {
			return "", err
		}
		return real, nil
	}

	// A symlink pointing into a host system directory gets its own
	// reason; the generic escape message would hide what happened.
	for _, dir := range systemDirs {
		if isPathInside(real, dir) {
			g.logger.Warn("symlink into system directory rejected",
				"user", userID, "path", path, "resolved", real)
			return "", fmt.Errorf("access denied: resolves into %s", dir)
		}
	}

	if err := g.checkConfinement(real, wsReal, userID); err != nil {
		return "", err
	}
	return "", fmt.Errorf("access denied: path outside workspace")
}

// CheckWriteContent screens content destined for a file against the
// dangerous-code list. Blocking a direct read of a secrets file is
// useless if the agent can write a one-line script that does the read.
func (g *PathGuard) CheckWriteContent(content string, userID int64) error {
	for _, r := range g.lib.Current().DangerousCode {
		if r.Pattern.MatchString(content) {
			g.logger.Warn("dangerous code rejected on write", "user", userID, "reason", r.Reason)
			return fmt.Errorf("🚫 BLOCKED: %s", r.Reason)
		}
	}
	return nil
}

// CheckListDir applies the directory blocklist for listing operations.
func (g *PathGuard) CheckListDir(path string) error {
	clean := filepath.Clean(path)
	if strings.Contains(clean, "/.ssh") {
		return fmt.Errorf("🚫 BLOCKED: Cannot list SSH key directories")
	}
	for _, dir := range listDenyDirs {
		if clean == dir || isPathInside(clean, dir) {
			return fmt.Errorf("🚫 BLOCKED: Cannot list %s", dir)
		}
	}
	return nil
}

// CheckSearchPattern rejects grep patterns that name secret-like
// terms; otherwise search becomes a read primitive for credentials.
func (g *PathGuard) CheckSearchPattern(pattern string) error {
	for _, re := range defaultSecretSearchTerms {
		if re.MatchString(pattern) {
			return fmt.Errorf("🚫 BLOCKED: Search pattern targets secret material")
		}
	}
	return nil
}

// checkConfinement enforces workspace boundaries on an already-clean
// absolute path.
func (g *PathGuard) checkConfinement(path, workspace string, userID int64) error {
	if path == g.root {
		return fmt.Errorf("access denied: workspace root is not accessible")
	}
	shared := filepath.Join(g.root, "_shared")
	if path == shared || isPathInside(path, shared) {
		return fmt.Errorf("access denied: shared directory is operator-only")
	}
	if isPathInside(path, g.root) && !isPathInside(path, workspace) {
		// First segment under the root belongs to someone else.
		return fmt.Errorf("access denied: cannot access other user's workspace")
	}
	if !isPathInside(path, workspace) {
		g.logger.Warn("path escape rejected", "user", userID, "path", path, "workspace", workspace)
		return fmt.Errorf("access denied: path outside workspace")
	}
	return nil
}

func (g *PathGuard) checkBasename(path string) error {
	base := filepath.Base(path)
	for _, re := range g.lib.Current().SensitiveFiles {
		if re.MatchString(base) {
			return fmt.Errorf("access denied: %s is a protected file", base)
		}
	}
	return nil
}

// canonicalize resolves the path to its real form, handling dangling
// symlinks and not-yet-existing files the same way the rest of the
// resolution does: through the deepest existing ancestor.
func (g *PathGuard) canonicalize(path string) (string, error) {
	real, err := filepath.EvalSymlinks(path)
	if err == nil {
		return real, nil
	}
	if !os.IsNotExist(err) {
		g.logger.Warn("path resolution failed", "path", path, "error", err)
		return "", fmt.Errorf("access denied: cannot resolve path")
	}

	// Dangling symlink: validate where it points, not where it sits.
	if info, lerr := os.Lstat(path); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(path)
		if rerr != nil {
			return "", fmt.Errorf("access denied: cannot resolve symlink")
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		resolved, rerr := resolveThroughAncestors(filepath.Clean(target))
		if rerr != nil {
			return "", fmt.Errorf("access denied: cannot resolve symlink target")
		}
		return resolved, nil
	}

	// Plain non-existent file: canonicalize the parent, keep the leaf.
	parentReal, perr := filepath.EvalSymlinks(filepath.Dir(path))
	if perr != nil {
		if os.IsNotExist(perr) {
			return resolveThroughAncestors(path)
		}
		return "", fmt.Errorf("access denied: cannot resolve path")
	}
	return filepath.Join(parentReal, filepath.Base(path)), nil
}

// resolveThroughAncestors canonicalizes the deepest existing ancestor
// and re-appends the missing components. This catches chained symlinks
// (link1 → link2 → /outside) whose intermediate hops escape.
func resolveThroughAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

// isPathInside checks whether child is inside or equal to parent.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
