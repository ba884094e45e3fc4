package tools

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// ExecResult holds the outcome of a shell command.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// DirEntry is one filesystem directory entry.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// SearchOptions configures content search.
type SearchOptions struct {
	GlobFilter      string `json:"glob_filter,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
}

// Environment abstracts where tool side effects happen. Tool executors
// never touch the OS directly; they go through an Environment so tests
// can run against a temp directory and risk gating stays in one place.
type Environment interface {
	ReadFile(path string, offset, limit int) (string, error)
	WriteFile(path, content string) error
	EditFile(path, oldText, newText string) error
	DeleteFile(path string, recursive bool) error
	FileExists(path string) bool
	ListDirectory(path string) ([]DirEntry, error)
	FileTree(path string, depth int) (string, error)

	ExecCommand(ctx context.Context, command, workingDir string) (*ExecResult, error)

	Search(ctx context.Context, pattern, path string, opts SearchOptions) (string, error)
	Glob(pattern, path string) ([]string, error)

	WorkingDirectory() string
}

// LocalEnvironment runs tools against the local machine rooted at a
// working directory. Relative paths resolve against that root.
type LocalEnvironment struct {
	workingDir string
}

// NewLocalEnvironment creates a LocalEnvironment. An empty workingDir
// means the process working directory.
func NewLocalEnvironment(workingDir string) *LocalEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &LocalEnvironment{workingDir: workingDir}
}

func (e *LocalEnvironment) WorkingDirectory() string { return e.workingDir }

func (e *LocalEnvironment) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workingDir, path)
}

func (e *LocalEnvironment) ReadFile(path string, offset, limit int) (string, error) {
	data, err := os.ReadFile(e.resolve(path))
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1 // offset is 1-based
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

func (e *LocalEnvironment) WriteFile(path, content string) error {
	resolved := e.resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Errorf("write_file: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0644)
}

func (e *LocalEnvironment) EditFile(path, oldText, newText string) error {
	resolved := e.resolve(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("edit_file: %w", err)
	}
	content := string(data)
	count := strings.Count(content, oldText)
	if count == 0 {
		return fmt.Errorf("edit_file: text not found in %s", path)
	}
	if count > 1 {
		return fmt.Errorf("edit_file: text appears %d times in %s, need a unique match", count, path)
	}
	return os.WriteFile(resolved, []byte(strings.Replace(content, oldText, newText, 1)), 0644)
}

func (e *LocalEnvironment) DeleteFile(path string, recursive bool) error {
	resolved := e.resolve(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("delete_file: %w", err)
	}
	if info.IsDir() && !recursive {
		return fmt.Errorf("delete_file: %s is a directory, recursive not set", path)
	}
	if recursive {
		return os.RemoveAll(resolved)
	}
	return os.Remove(resolved)
}

func (e *LocalEnvironment) FileExists(path string) bool {
	_, err := os.Stat(e.resolve(path))
	return err == nil
}

func (e *LocalEnvironment) ListDirectory(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(e.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("list_files: %w", err)
	}
	result := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		de := DirEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil {
			de.Size = info.Size()
		}
		result = append(result, de)
	}
	return result, nil
}

// FileTree renders a directory tree to the given depth, skipping hidden
// directories and common dependency dirs.
func (e *LocalEnvironment) FileTree(path string, depth int) (string, error) {
	root := e.resolve(path)
	if depth <= 0 {
		depth = 3
	}

	var sb strings.Builder
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		level := strings.Count(rel, string(filepath.Separator))
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "__pycache__" {
				return filepath.SkipDir
			}
			if level >= depth {
				return filepath.SkipDir
			}
		}
		if level < depth {
			suffix := ""
			if d.IsDir() {
				suffix = "/"
			}
			sb.WriteString(strings.Repeat("  ", level) + d.Name() + suffix + "\n")
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("file_tree: %w", err)
	}
	return sb.String(), nil
}

func (e *LocalEnvironment) ExecCommand(ctx context.Context, command, workingDir string) (*ExecResult, error) {
	if workingDir == "" {
		workingDir = e.workingDir
	} else {
		workingDir = e.resolve(workingDir)
	}

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Dir = workingDir
	// Own process group so a timeout can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = filteredEnviron()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		if ctx.Err() != nil {
			result.TimedOut = true
			result.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execute_command: %w", err)
		}
	}

	return result, nil
}

func (e *LocalEnvironment) Search(ctx context.Context, pattern, path string, opts SearchOptions) (string, error) {
	if path == "" {
		path = e.workingDir
	} else {
		path = e.resolve(path)
	}

	rgPath, err := exec.LookPath("rg")
	if err != nil {
		return e.searchFallback(ctx, pattern, path, opts)
	}

	args := []string{pattern, path, "--line-number", "--no-heading"}
	if opts.CaseInsensitive {
		args = append(args, "-i")
	}
	if opts.GlobFilter != "" {
		args = append(args, "--glob", opts.GlobFilter)
	}
	if opts.MaxResults > 0 {
		args = append(args, "--max-count", fmt.Sprintf("%d", opts.MaxResults))
	}

	cmd := exec.CommandContext(ctx, rgPath, args...)
	cmd.Dir = e.workingDir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run() // rg exits 1 on no matches
	return stdout.String(), nil
}

func (e *LocalEnvironment) searchFallback(ctx context.Context, pattern, path string, opts SearchOptions) (string, error) {
	args := []string{"-rn", pattern, path}
	if opts.CaseInsensitive {
		args = append([]string{"-i"}, args...)
	}
	cmd := exec.CommandContext(ctx, "grep", args...)
	cmd.Dir = e.workingDir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run()
	return stdout.String(), nil
}

func (e *LocalEnvironment) Glob(pattern, path string) ([]string, error) {
	if path == "" {
		path = e.workingDir
	} else {
		path = e.resolve(path)
	}
	matches, err := filepath.Glob(filepath.Join(path, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	result := make([]string, len(matches))
	for i, m := range matches {
		if rel, err := filepath.Rel(e.workingDir, m); err == nil {
			result[i] = rel
		} else {
			result[i] = m
		}
	}
	sort.Strings(result)
	return result, nil
}

// Environment variables with these suffixes are withheld from
// subprocesses.
var sensitiveEnvSuffixes = []string{
	"_API_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_CREDENTIAL",
}

func filteredEnviron() []string {
	var out []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(name)
		sensitive := false
		for _, suffix := range sensitiveEnvSuffixes {
			if strings.HasSuffix(upper, suffix) {
				sensitive = true
				break
			}
		}
		if !sensitive {
			out = append(out, env)
		}
	}
	return out
}
