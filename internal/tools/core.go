package tools

import (
	"context"
	"fmt"
	"strings"
)

// RegisterCoreTools populates the registry with the standard tool set:
// file operations, search, shell, and git helpers.
func RegisterCoreTools(r *Registry) {
	r.Register(Tool{
		Definition: Definition{
			Name:        "read_file",
			Description: "Read a file, optionally a line range. Returns numbered lines.",
			Parameters: map[string]any{
				"path":   "string, required",
				"offset": "int, optional 1-based start line",
				"limit":  "int, optional max lines",
			},
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			path, ok := StringParam(params, "path")
			if !ok {
				return "", fmt.Errorf("read_file: missing path")
			}
			offset, _ := IntParam(params, "offset")
			limit, _ := IntParam(params, "limit")
			return env.ReadFile(path, offset, limit)
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "write_file",
			Description: "Create or overwrite a file with the given content.",
			Parameters: map[string]any{
				"path":    "string, required",
				"content": "string, required",
			},
		},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			path, ok := StringParam(params, "path")
			if !ok {
				return "", fmt.Errorf("write_file: missing path")
			}
			content, _ := StringParam(params, "content")
			if err := env.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "edit_file",
			Description: "Replace one unique occurrence of old_text with new_text in a file.",
			Parameters: map[string]any{
				"path":     "string, required",
				"old_text": "string, required, must match exactly once",
				"new_text": "string, required",
			},
		},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			path, ok := StringParam(params, "path")
			if !ok {
				return "", fmt.Errorf("edit_file: missing path")
			}
			oldText, ok := StringParam(params, "old_text")
			if !ok || oldText == "" {
				return "", fmt.Errorf("edit_file: missing old_text")
			}
			newText, _ := StringParam(params, "new_text")
			if err := env.EditFile(path, oldText, newText); err != nil {
				return "", err
			}
			return "edited " + path, nil
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "delete_file",
			Description: "Delete a file, or a directory when recursive is set.",
			Parameters: map[string]any{
				"path":      "string, required",
				"recursive": "bool, optional",
			},
		},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			path, ok := StringParam(params, "path")
			if !ok {
				return "", fmt.Errorf("delete_file: missing path")
			}
			recursive, _ := BoolParam(params, "recursive")
			if err := env.DeleteFile(path, recursive); err != nil {
				return "", err
			}
			return "deleted " + path, nil
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "list_files",
			Description: "List the entries of one directory.",
			Parameters: map[string]any{
				"path": "string, optional, defaults to working directory",
			},
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			path, _ := StringParam(params, "path")
			if path == "" {
				path = "."
			}
			entries, err := env.ListDirectory(path)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, e := range entries {
				if e.IsDir {
					sb.WriteString(e.Name + "/\n")
				} else {
					fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
				}
			}
			if sb.Len() == 0 {
				return "(empty directory)", nil
			}
			return sb.String(), nil
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "file_tree",
			Description: "Render a directory tree to a given depth.",
			Parameters: map[string]any{
				"path":  "string, optional",
				"depth": "int, optional, default 3",
			},
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			path, _ := StringParam(params, "path")
			if path == "" {
				path = "."
			}
			depth, _ := IntParam(params, "depth")
			return env.FileTree(path, depth)
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "search_files",
			Description: "Search file contents for a regex pattern.",
			Parameters: map[string]any{
				"pattern":     "string, required",
				"path":        "string, optional",
				"glob":        "string, optional filename filter",
				"max_results": "int, optional per-file match cap",
			},
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			pattern, ok := StringParam(params, "pattern")
			if !ok || pattern == "" {
				return "", fmt.Errorf("search_files: missing pattern")
			}
			path, _ := StringParam(params, "path")
			glob, _ := StringParam(params, "glob")
			maxResults, _ := IntParam(params, "max_results")
			out, err := env.Search(ctx, pattern, path, SearchOptions{
				GlobFilter: glob,
				MaxResults: maxResults,
			})
			if err != nil {
				return "", err
			}
			if out == "" {
				return "(no matches)", nil
			}
			return out, nil
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "glob",
			Description: "List files matching a glob pattern.",
			Parameters: map[string]any{
				"pattern": "string, required",
				"path":    "string, optional",
			},
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
			pattern, ok := StringParam(params, "pattern")
			if !ok || pattern == "" {
				return "", fmt.Errorf("glob: missing pattern")
			}
			path, _ := StringParam(params, "path")
			matches, err := env.Glob(pattern, path)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "(no matches)", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "execute_command",
			Description: "Run a shell command. Output includes stderr and exit code.",
			Parameters: map[string]any{
				"command":     "string, required",
				"working_dir": "string, optional",
			},
		},
		Executor: execCommand,
	})

	registerGitTools(r)
}

func execCommand(ctx context.Context, params map[string]any, env Environment) (string, error) {
	command, ok := StringParam(params, "command")
	if !ok || command == "" {
		return "", fmt.Errorf("execute_command: missing command")
	}
	workingDir, _ := StringParam(params, "working_dir")

	result, err := env.ExecCommand(ctx, command, workingDir)
	if err != nil {
		return "", err
	}
	output := result.Output()
	if result.TimedOut {
		return output, fmt.Errorf("command timed out")
	}
	if result.ExitCode != 0 {
		return output, fmt.Errorf("exit code %d", result.ExitCode)
	}
	return output, nil
}

// Git tools are thin shells over the git CLI through the environment so
// the risk scorer can price them as distinct operations.
func registerGitTools(r *Registry) {
	readOnly := map[string]string{
		"git_status": "git status",
		"git_log":    "git log --oneline -20",
		"git_diff":   "git diff",
	}
	for name, command := range readOnly {
		cmd := command
		r.Register(Tool{
			Definition: Definition{
				Name:        name,
				Description: "Run " + cmd + ".",
				Parameters:  map[string]any{},
				ReadOnly:    true,
			},
			Executor: func(ctx context.Context, params map[string]any, env Environment) (string, error) {
				result, err := env.ExecCommand(ctx, cmd, "")
				if err != nil {
					return "", err
				}
				if result.ExitCode != 0 {
					return result.Output(), fmt.Errorf("exit code %d", result.ExitCode)
				}
				return result.Output(), nil
			},
		})
	}

	r.Register(Tool{
		Definition: Definition{
			Name:        "git_add",
			Description: "Stage files for commit.",
			Parameters:  map[string]any{"paths": "string, required, space-separated"},
		},
		Executor: gitCommand(func(params map[string]any) (string, error) {
			paths, ok := StringParam(params, "paths")
			if !ok || paths == "" {
				return "", fmt.Errorf("git_add: missing paths")
			}
			return "git add -- " + paths, nil
		}),
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "git_commit",
			Description: "Commit staged changes.",
			Parameters:  map[string]any{"message": "string, required"},
		},
		Executor: gitCommand(func(params map[string]any) (string, error) {
			message, ok := StringParam(params, "message")
			if !ok || message == "" {
				return "", fmt.Errorf("git_commit: missing message")
			}
			return fmt.Sprintf("git commit -m %q", message), nil
		}),
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "git_checkout",
			Description: "Switch branches, or restore a file (discards changes).",
			Parameters: map[string]any{
				"branch":    "string, optional",
				"file_path": "string, optional",
			},
		},
		Executor: gitCommand(func(params map[string]any) (string, error) {
			if path, _ := StringParam(params, "file_path"); path != "" {
				return "git checkout -- " + path, nil
			}
			branch, ok := StringParam(params, "branch")
			if !ok || branch == "" {
				return "", fmt.Errorf("git_checkout: need branch or file_path")
			}
			return "git checkout " + branch, nil
		}),
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "git_branch",
			Description: "Create, delete, or list branches.",
			Parameters: map[string]any{
				"action": "string: list|create|delete",
				"name":   "string, required for create/delete",
			},
		},
		Executor: gitCommand(func(params map[string]any) (string, error) {
			action, _ := StringParam(params, "action")
			name, _ := StringParam(params, "name")
			switch action {
			case "", "list":
				return "git branch", nil
			case "create":
				if name == "" {
					return "", fmt.Errorf("git_branch: missing name")
				}
				return "git branch " + name, nil
			case "delete":
				if name == "" {
					return "", fmt.Errorf("git_branch: missing name")
				}
				return "git branch -d " + name, nil
			default:
				return "", fmt.Errorf("git_branch: unknown action %q", action)
			}
		}),
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "git_pull",
			Description: "Pull from the remote.",
			Parameters:  map[string]any{},
		},
		Executor: gitCommand(func(map[string]any) (string, error) {
			return "git pull", nil
		}),
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "git_push",
			Description: "Push to the remote. force is scored separately.",
			Parameters: map[string]any{
				"force": "bool, optional",
			},
		},
		Executor: gitCommand(func(params map[string]any) (string, error) {
			if force, _ := BoolParam(params, "force"); force {
				return "git push --force-with-lease", nil
			}
			return "git push", nil
		}),
	})
}

func gitCommand(build func(map[string]any) (string, error)) Executor {
	return func(ctx context.Context, params map[string]any, env Environment) (string, error) {
		command, err := build(params)
		if err != nil {
			return "", err
		}
		result, err := env.ExecCommand(ctx, command, "")
		if err != nil {
			return "", err
		}
		if result.ExitCode != 0 {
			return result.Output(), fmt.Errorf("exit code %d", result.ExitCode)
		}
		return result.Output(), nil
	}
}
