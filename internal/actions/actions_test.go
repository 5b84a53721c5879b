package actions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/vinayprograms/taskrunner/internal/task"
)

func newWorkspace(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r := NewRegistry()
	RegisterBuiltins(r, Workspace{Root: dir})
	return r, dir
}

func run(t *testing.T, r *Registry, typ string, params map[string]interface{}) (task.StepResult, error) {
	t.Helper()
	return r.Execute(context.Background(), task.Action{Type: typ, Params: params})
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()
	res, err := r.Execute(context.Background(), task.Action{Type: "teleport"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
	if res.Success {
		t.Error("unknown action must not succeed")
	}
}

func TestRegistry_DryRun(t *testing.T) {
	called := false
	r := NewRegistry(WithDryRun(true))
	r.Register("file.delete", HandlerFunc(func(ctx context.Context, p map[string]interface{}) (task.StepResult, error) {
		called = true
		return task.StepResult{Success: true}, nil
	}))

	res, err := r.Execute(context.Background(), task.Action{Type: "file.delete"})
	if err != nil || !res.Success || !res.Skipped {
		t.Errorf("dry run result = %+v, %v", res, err)
	}
	if called {
		t.Error("handler must not run in dry-run mode")
	}
}

func TestRegistry_Types(t *testing.T) {
	r, _ := newWorkspace(t)
	types := r.Types()
	if len(types) == 0 || types[0] != "dir.create" {
		t.Errorf("types not sorted: %v", types)
	}
	if !r.Has("file.write") || r.Has("file.teleport") {
		t.Error("Has mismatch")
	}
}

func TestWriteReadAppendDelete(t *testing.T) {
	r, dir := newWorkspace(t)

	res, err := run(t, r, "file.write", map[string]interface{}{"path": "out/notes.txt", "content": "hello"})
	if err != nil || !res.Success {
		t.Fatalf("write failed: %+v %v", res, err)
	}
	if len(res.FilesCreated) != 1 || res.FilesCreated[0] != "out/notes.txt" {
		t.Errorf("files created = %v", res.FilesCreated)
	}

	res, _ = run(t, r, "file.write", map[string]interface{}{"path": "out/notes.txt", "content": "hello"})
	if len(res.FilesModified) != 1 {
		t.Errorf("rewrite should report a modified file, got %+v", res)
	}

	if _, err := run(t, r, "file.append", map[string]interface{}{"path": "out/notes.txt", "content": " world"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	res, err = run(t, r, "file.read", map[string]interface{}{"path": "out/notes.txt"})
	if err != nil || res.Data != "hello world" {
		t.Errorf("read = %+v %v", res, err)
	}

	res, err = run(t, r, "file.list", map[string]interface{}{"path": "."})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if names, ok := res.Data.([]string); !ok || len(names) != 1 || names[0] != "out/" {
		t.Errorf("list data = %#v", res.Data)
	}

	if _, err := run(t, r, "file.delete", map[string]interface{}{"path": "out"}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Error("directory still exists after delete")
	}
}

func TestWorkspaceConfinement(t *testing.T) {
	r, _ := newWorkspace(t)

	for _, p := range []string{"../escape.txt", "/etc/passwd", "a/../../b"} {
		if _, err := run(t, r, "file.read", map[string]interface{}{"path": p}); err == nil {
			t.Errorf("path %q should be rejected", p)
		}
	}
	if _, err := run(t, r, "file.delete", map[string]interface{}{"path": "."}); err == nil {
		t.Error("deleting the workspace root must fail")
	}
	if _, err := run(t, r, "file.write", map[string]interface{}{"path": "x.txt"}); err == nil {
		t.Error("write without content must fail")
	}
}

func TestShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	r, _ := newWorkspace(t)

	res, err := run(t, r, "shell", map[string]interface{}{"command": "echo hi"})
	if err != nil || !res.Success || res.Message != "hi" {
		t.Errorf("echo = %+v %v", res, err)
	}

	res, err = run(t, r, "shell", map[string]interface{}{"command": "echo bad >&2; exit 3"})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.Success || res.Message != "bad" {
		t.Errorf("failing command = %+v", res)
	}
	if er, ok := res.Data.(*ExecResult); !ok || er.ExitCode != 3 {
		t.Errorf("exit code not captured: %#v", res.Data)
	}
}
