package actions

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// ExecResult is the data attached to a shell action result.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Workspace confines built-in handlers to a directory tree.
type Workspace struct {
	Root string
}

// Resolve maps a relative path into the workspace and rejects escapes.
func (w Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return "", err
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, path)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}
	return full, nil
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

// RegisterBuiltins adds the file and shell handlers bound to ws.
func RegisterBuiltins(r *Registry, ws Workspace) {
	r.Register("file.read", HandlerFunc(ws.read))
	r.Register("file.write", HandlerFunc(ws.write))
	r.Register("file.append", HandlerFunc(ws.appendFile))
	r.Register("file.delete", HandlerFunc(ws.delete))
	r.Register("file.list", HandlerFunc(ws.list))
	r.Register("dir.create", HandlerFunc(ws.mkdir))
	r.Register("shell", HandlerFunc(ws.shell))
	r.Register("noop", HandlerFunc(func(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
		msg, _ := stringParam(params, "message")
		return task.StepResult{Success: true, Message: msg}, nil
	}))
}

func (w Workspace) read(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
	p, _ := stringParam(params, "path")
	full, err := w.Resolve(p)
	if err != nil {
		return task.StepResult{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return task.StepResult{}, fmt.Errorf("failed to read file: %w", err)
	}
	return task.StepResult{Success: true, Message: fmt.Sprintf("read %d bytes from %s", len(data), p), Data: string(data)}, nil
}

func (w Workspace) write(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
	p, _ := stringParam(params, "path")
	content, ok := stringParam(params, "content")
	if !ok {
		return task.StepResult{}, fmt.Errorf("content is required")
	}
	full, err := w.Resolve(p)
	if err != nil {
		return task.StepResult{}, err
	}
	_, statErr := os.Stat(full)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return task.StepResult{}, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return task.StepResult{}, fmt.Errorf("failed to write file: %w", err)
	}

	res := task.StepResult{Success: true, Message: fmt.Sprintf("wrote %d bytes to %s", len(content), p)}
	if existed {
		res.FilesModified = []string{p}
	} else {
		res.FilesCreated = []string{p}
	}
	return res, nil
}

func (w Workspace) appendFile(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
	p, _ := stringParam(params, "path")
	content, ok := stringParam(params, "content")
	if !ok {
		return task.StepResult{}, fmt.Errorf("content is required")
	}
	full, err := w.Resolve(p)
	if err != nil {
		return task.StepResult{}, err
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return task.StepResult{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return task.StepResult{}, fmt.Errorf("failed to append: %w", err)
	}
	return task.StepResult{Success: true, Message: "appended to " + p, FilesModified: []string{p}}, nil
}

func (w Workspace) delete(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
	p, _ := stringParam(params, "path")
	full, err := w.Resolve(p)
	if err != nil {
		return task.StepResult{}, err
	}
	if root, _ := filepath.Abs(w.Root); full == root {
		return task.StepResult{}, fmt.Errorf("refusing to delete the workspace root")
	}
	if err := os.RemoveAll(full); err != nil {
		return task.StepResult{}, fmt.Errorf("failed to delete: %w", err)
	}
	return task.StepResult{Success: true, Message: "deleted " + p}, nil
}

func (w Workspace) list(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
	p, ok := stringParam(params, "path")
	if !ok || p == "" {
		p = "."
	}
	full, err := w.Resolve(p)
	if err != nil {
		return task.StepResult{}, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return task.StepResult{}, fmt.Errorf("failed to list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return task.StepResult{Success: true, Message: fmt.Sprintf("%d entries in %s", len(names), p), Data: names}, nil
}

func (w Workspace) mkdir(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
	p, _ := stringParam(params, "path")
	full, err := w.Resolve(p)
	if err != nil {
		return task.StepResult{}, err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return task.StepResult{}, fmt.Errorf("failed to create directory: %w", err)
	}
	return task.StepResult{Success: true, Message: "created " + p, FilesCreated: []string{p}}, nil
}

func (w Workspace) shell(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
	command, ok := stringParam(params, "command")
	if !ok || strings.TrimSpace(command) == "" {
		return task.StepResult{}, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = w.Root

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return task.StepResult{}, fmt.Errorf("failed to execute command: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return task.StepResult{Success: false, Message: msg, Data: res}, nil
	}
	return task.StepResult{Success: true, Message: strings.TrimSpace(res.Stdout), Data: res}, nil
}
