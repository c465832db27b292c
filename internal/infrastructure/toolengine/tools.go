package toolengine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	domaintool "github.com/nmnduy/claude-c-sub003/internal/domain/tool"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/patch"
	"github.com/nmnduy/claude-c-sub003/internal/infrastructure/sandbox"
	"github.com/nmnduy/claude-c-sub003/internal/queue"
)

// Result aliases the domain tool result so tool implementations in this
// package stay terse.
type Result = domaintool.Result

// resolvePath resolves path against workingDir unless it is already absolute.
func resolvePath(workingDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workingDir, path)
}

// ShellTool runs a command via the process sandbox's `bash -c`, merging
// stdout+stderr. The sandbox runs the command as its own process group
// leader and kills the whole group on timeout or cancellation.
type ShellTool struct {
	Sandbox *sandbox.ProcessSandbox
}

func NewShellTool(sb *sandbox.ProcessSandbox) *ShellTool { return &ShellTool{Sandbox: sb} }

func (t *ShellTool) Name() string          { return "shell" }
func (t *ShellTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *ShellTool) Description() string {
	return "Run a shell command and capture its merged stdout+stderr."
}
func (t *ShellTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command to execute"},
			"timeout": map[string]interface{}{"type": "integer", "description": "Timeout in milliseconds"},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return &Result{Success: false, Error: "command is required"}, nil
	}

	res, err := t.Sandbox.ExecuteShell(ctx, command)
	if err != nil {
		if res != nil && res.Killed {
			return &Result{Success: false, Error: "cancelled", Metadata: map[string]interface{}{"exit_code": -1}}, nil
		}
		errOut := err.Error()
		if res != nil {
			errOut = res.Stderr
			if errOut == "" {
				errOut = err.Error()
			}
		}
		return &Result{Success: false, Error: errOut, Metadata: map[string]interface{}{"exit_code": exitCodeOf(res)}}, nil
	}

	return &Result{
		Output:   res.Stdout + res.Stderr,
		Success:  res.ExitCode == 0,
		Metadata: map[string]interface{}{"exit_code": res.ExitCode},
	}, nil
}

func exitCodeOf(res *sandbox.Result) int {
	if res == nil {
		return 1
	}
	return res.ExitCode
}

// ReadTool reads a file's contents, optionally by line offset/limit.
// Binary payloads are returned as a base64 data URI rather than raw
// bytes, since raw bytes would corrupt the JSON request body.
type ReadTool struct {
	WorkingDir string
}

func NewReadTool(workingDir string) *ReadTool { return &ReadTool{WorkingDir: workingDir} }

func (t *ReadTool) Name() string          { return "read" }
func (t *ReadTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *ReadTool) Description() string {
	return "Read a file's contents, optionally restricted to a line range."
}
func (t *ReadTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":   map[string]interface{}{"type": "string"},
			"offset": map[string]interface{}{"type": "integer", "description": "1-indexed starting line"},
			"limit":  map[string]interface{}{"type": "integer", "description": "maximum number of lines"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &Result{Success: false, Error: "path is required"}, nil
	}
	full := resolvePath(t.WorkingDir, path)

	data, err := os.ReadFile(full)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	if !validUTF8Text(data) {
		return &Result{
			Output:   fmt.Sprintf("data:application/octet-stream;base64,%s", base64.StdEncoding.EncodeToString(data)),
			Success:  true,
			Metadata: map[string]interface{}{"path": path, "binary": true, "truncated": false},
		}, nil
	}

	lines := strings.Split(string(data), "\n")
	offset, hasOffset := intArg(args, "offset")
	limit, hasLimit := intArg(args, "limit")

	start := 0
	if hasOffset && offset > 0 {
		start = offset - 1
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := len(lines)
	truncated := false
	if hasLimit && limit > 0 && start+limit < end {
		end = start + limit
		truncated = true
	}

	content := strings.Join(lines[start:end], "\n")
	return &Result{
		Output:   content,
		Success:  true,
		Metadata: map[string]interface{}{"path": path, "truncated": truncated},
	}, nil
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// validUTF8Text is a cheap binary-vs-text heuristic: a NUL byte anywhere in
// the first chunk marks the content binary, matching the convention most
// text editors and `file`/`grep -I` use.
func validUTF8Text(data []byte) bool {
	limit := len(data)
	if limit > 8000 {
		limit = 8000
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return false
		}
	}
	return true
}

// WriteTool atomically replaces a file's contents (write-to-temp, rename)
// and posts a one-line summary to the UI queue: the path and its line
// count before and after. The summary carries no diff text and no colour.
type WriteTool struct {
	WorkingDir string
	UIQueue    *queue.UIQueue
}

func NewWriteTool(workingDir string, uiq *queue.UIQueue) *WriteTool {
	return &WriteTool{WorkingDir: workingDir, UIQueue: uiq}
}

func (t *WriteTool) Name() string          { return "write" }
func (t *WriteTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *WriteTool) Description() string {
	return "Write content to a file, creating or overwriting it atomically."
}
func (t *WriteTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &Result{Success: false, Error: "path is required"}, nil
	}
	content, ok := args["content"].(string)
	if !ok {
		return &Result{Success: false, Error: "content is required"}, nil
	}
	full := resolvePath(t.WorkingDir, path)

	oldContent, _ := os.ReadFile(full)

	tmp := full + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return &Result{Success: false, Error: err.Error()}, nil
	}

	if t.UIQueue != nil {
		t.UIQueue.Post(queue.UIMessage{Tag: queue.TagAddLine, Payload: diffSummary(path, string(oldContent), content)})
	}

	return &Result{Output: "written", Success: true, Metadata: map[string]interface{}{"status": "ok"}}, nil
}

func diffSummary(path, old, new string) string {
	oldLines := strings.Count(old, "\n") + 1
	newLines := strings.Count(new, "\n") + 1
	return fmt.Sprintf("%s: %d -> %d lines", path, oldLines, newLines)
}

// EditTool replaces an exact or regex match within a file.
type EditTool struct {
	WorkingDir string
	UIQueue    *queue.UIQueue
}

func NewEditTool(workingDir string, uiq *queue.UIQueue) *EditTool {
	return &EditTool{WorkingDir: workingDir, UIQueue: uiq}
}

func (t *EditTool) Name() string          { return "edit" }
func (t *EditTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *EditTool) Description() string {
	return "Replace an exact or regex-matched substring within a file."
}
func (t *EditTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":        map[string]interface{}{"type": "string"},
			"old_string":  map[string]interface{}{"type": "string"},
			"new_string":  map[string]interface{}{"type": "string"},
			"replace_all": map[string]interface{}{"type": "boolean"},
			"use_regex":   map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, _ := args["path"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)
	useRegex, _ := args["use_regex"].(bool)
	if path == "" || oldStr == "" {
		return &Result{Success: false, Error: "path and old_string are required"}, nil
	}

	full := resolvePath(t.WorkingDir, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	content := string(data)

	var updated string
	replacements := 0
	if useRegex {
		re, err := regexp.Compile(oldStr)
		if err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("invalid regex: %v", err)}, nil
		}
		matches := re.FindAllStringIndex(content, -1)
		if len(matches) == 0 {
			return &Result{Success: false, Error: fmt.Sprintf("old_string not found in %s", path)}, nil
		}
		if replaceAll {
			updated = re.ReplaceAllString(content, newStr)
			replacements = len(matches)
		} else {
			loc := matches[0]
			updated = content[:loc[0]] + re.ReplaceAllString(content[loc[0]:loc[1]], newStr) + content[loc[1]:]
			replacements = 1
		}
	} else {
		count := strings.Count(content, oldStr)
		if count == 0 {
			return &Result{Success: false, Error: fmt.Sprintf("old_string not found in %s", path)}, nil
		}
		if replaceAll {
			updated = strings.ReplaceAll(content, oldStr, newStr)
			replacements = count
		} else {
			updated = strings.Replace(content, oldStr, newStr, 1)
			replacements = 1
		}
	}

	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if t.UIQueue != nil {
		t.UIQueue.Post(queue.UIMessage{Tag: queue.TagAddLine, Payload: diffSummary(path, content, updated)})
	}

	return &Result{
		Output:   fmt.Sprintf("%d replacement(s)", replacements),
		Success:  true,
		Metadata: map[string]interface{}{"status": "ok", "replacements": replacements},
	}, nil
}

// PatchTool delegates to the patch package.
type PatchTool struct {
	WorkingDir string
}

func NewPatchTool(workingDir string) *PatchTool { return &PatchTool{WorkingDir: workingDir} }

func (t *PatchTool) Name() string          { return "patch" }
func (t *PatchTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *PatchTool) Description() string {
	return "Apply a multi-file patch in the `*** Begin Patch` grammar."
}
func (t *PatchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"content": map[string]interface{}{"type": "string"}},
		"required":   []string{"content"},
	}
}

func (t *PatchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return &Result{Success: false, Error: "content is required"}, nil
	}

	p, err := patch.Parse(content)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	res := patch.Apply(p, workingDirFileIO{workingDir: t.WorkingDir})
	if res.Error != "" {
		return &Result{Success: false, Error: res.Error, Metadata: map[string]interface{}{"operations_applied": res.OperationsApplied}}, nil
	}
	return &Result{
		Output:   fmt.Sprintf("%d operation(s) applied", res.OperationsApplied),
		Success:  true,
		Metadata: map[string]interface{}{"status": "ok", "operations_applied": res.OperationsApplied},
	}, nil
}

type workingDirFileIO struct{ workingDir string }

func (w workingDirFileIO) ReadFile(path string) (string, error) {
	b, err := os.ReadFile(resolvePath(w.workingDir, path))
	return string(b), err
}

func (w workingDirFileIO) WriteFile(path string, content string) error {
	return os.WriteFile(resolvePath(w.workingDir, path), []byte(content), 0o644)
}

// GrepTool searches file contents for a regex pattern.
type GrepTool struct{ WorkingDir string }

func NewGrepTool(workingDir string) *GrepTool { return &GrepTool{WorkingDir: workingDir} }

func (t *GrepTool) Name() string          { return "grep" }
func (t *GrepTool) Kind() domaintool.Kind { return domaintool.KindSearch }
func (t *GrepTool) Description() string   { return "Search file contents for a regex pattern." }
func (t *GrepTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string"},
			"path":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		return &Result{Success: false, Error: "pattern is required"}, nil
	}
	root, _ := args["path"].(string)
	searchRoot := resolvePath(t.WorkingDir, root)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid regex: %v", err)}, nil
	}

	var matches []string
	err = filepath.WalkDir(searchRoot, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		if !validUTF8Text(data) {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", p, i+1, line))
			}
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return &Result{Success: false, Error: "cancelled"}, nil
	}

	return &Result{Output: strings.Join(matches, "\n"), Success: true, Metadata: map[string]interface{}{"count": len(matches)}}, nil
}

// GlobTool lists files matching a glob pattern under the working directory.
type GlobTool struct{ WorkingDir string }

func NewGlobTool(workingDir string) *GlobTool { return &GlobTool{WorkingDir: workingDir} }

func (t *GlobTool) Name() string          { return "glob" }
func (t *GlobTool) Kind() domaintool.Kind { return domaintool.KindSearch }
func (t *GlobTool) Description() string   { return "List files matching a glob pattern." }
func (t *GlobTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"pattern": map[string]interface{}{"type": "string"}},
		"required":   []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		return &Result{Success: false, Error: "pattern is required"}, nil
	}
	matches, err := filepath.Glob(resolvePath(t.WorkingDir, pattern))
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	sort.Strings(matches)
	return &Result{Output: strings.Join(matches, "\n"), Success: true}, nil
}

// ListTool lists directory entries, one per line, directories suffixed
// with "/".
type ListTool struct{ WorkingDir string }

func NewListTool(workingDir string) *ListTool { return &ListTool{WorkingDir: workingDir} }

func (t *ListTool) Name() string          { return "list" }
func (t *ListTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *ListTool) Description() string   { return "List a directory's entries." }
func (t *ListTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (t *ListTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		path = "."
	}
	entries, err := os.ReadDir(resolvePath(t.WorkingDir, path))
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	var lines []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	return &Result{Output: strings.Join(lines, "\n"), Success: true}, nil
}

// TodoItem mirrors one entry of a todo_write call.
type TodoItem struct {
	Content    string `json:"content"`
	ActiveForm string `json:"activeForm"`
	Status     string `json:"status"`
}

// TodoWriteTool replaces the in-memory todo list and posts a TodoUpdate to
// the UI queue.
type TodoWriteTool struct {
	UIQueue *queue.UIQueue
	items   []TodoItem
}

func NewTodoWriteTool(uiq *queue.UIQueue) *TodoWriteTool { return &TodoWriteTool{UIQueue: uiq} }

func (t *TodoWriteTool) Name() string          { return "todo_write" }
func (t *TodoWriteTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *TodoWriteTool) Description() string   { return "Replace the current todo list." }
func (t *TodoWriteTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"todos": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"content":    map[string]interface{}{"type": "string"},
						"activeForm": map[string]interface{}{"type": "string"},
						"status":     map[string]interface{}{"type": "string"},
					},
				},
			},
		},
		"required": []string{"todos"},
	}
}

func (t *TodoWriteTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	raw, ok := args["todos"].([]interface{})
	if !ok {
		return &Result{Success: false, Error: "todos is required"}, nil
	}
	var items []TodoItem
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		active, _ := m["activeForm"].(string)
		status, _ := m["status"].(string)
		items = append(items, TodoItem{Content: content, ActiveForm: active, Status: status})
	}
	t.items = items

	if t.UIQueue != nil {
		t.UIQueue.Post(queue.UIMessage{Tag: queue.TagTodoUpdate, Payload: fmt.Sprintf("%d todo(s)", len(items))})
	}

	return &Result{Output: fmt.Sprintf("%d todo(s) recorded", len(items)), Success: true, Metadata: map[string]interface{}{"added": len(items)}}, nil
}

// RegisterBuiltins registers the built-in tool set into reg.
func RegisterBuiltins(reg domaintool.Registry, sb *sandbox.ProcessSandbox, workingDir string, uiq *queue.UIQueue) error {
	tools := []domaintool.Tool{
		NewShellTool(sb),
		NewReadTool(workingDir),
		NewWriteTool(workingDir, uiq),
		NewEditTool(workingDir, uiq),
		NewPatchTool(workingDir),
		NewGrepTool(workingDir),
		NewGlobTool(workingDir),
		NewListTool(workingDir),
		NewTodoWriteTool(uiq),
	}
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			return err
		}
	}
	return nil
}
