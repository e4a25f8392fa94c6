// Package file provides the sandboxed file tools: read_file, edit_file, and
// list_files. All paths resolve inside the sandbox root; escapes and
// credential-looking files are refused. Read and edit results carry the
// sse_events side channel the UI consumes for file_open/file_change.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	aster "github.com/corven/aster"
)

// MaxFileBytes is the largest file read_file accepts; larger files are
// refused with an error, not truncated.
const MaxFileBytes = 1 << 20 // 1 MiB

// sensitivePatterns are file names refused regardless of location.
var sensitivePatterns = []string{
	".env",
	"id_rsa",
	"id_ed25519",
	"credentials.json",
	".aws/credentials",
	".git/config",
}

var languageBySuffix = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".rs":   "rust",
	".json": "json",
	".md":   "markdown",
	".sh":   "shell",
	".sql":  "sql",
	".toml": "toml",
	".yaml": "yaml",
	".yml":  "yaml",
	".html": "html",
	".css":  "css",
}

// Tools holds the sandbox root for the file tool handlers.
type Tools struct {
	root string
}

// New creates file tools confined to sandboxDir.
func New(sandboxDir string) *Tools {
	return &Tools{root: sandboxDir}
}

// Register adds read_file, edit_file, and list_files to the registry.
// edit_file declares path as its lock key; the read-only tools run
// unserialized.
func (t *Tools) Register(reg *aster.ToolRegistry) error {
	tools := []aster.Tool{
		{
			Name:        "read_file",
			Description: "Read a file from the workspace. Returns the content with its detected language.",
			Parameters:  []byte(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the workspace"}},"required":["path"]}`),
			Handler:     t.read,
		},
		{
			Name:        "edit_file",
			Description: "Create a file or replace text in an existing one. Pass content to create; pass old_content and new_content to edit.",
			Parameters:  []byte(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the workspace"},"content":{"type":"string","description":"Full content for a new file"},"old_content":{"type":"string","description":"Exact text to replace"},"new_content":{"type":"string","description":"Replacement text"}},"required":["path"]}`),
			Handler:     t.edit,
			FileParam:   "path",
		},
		{
			Name:        "list_files",
			Description: "List files and directories under a workspace directory.",
			Parameters:  []byte(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to the workspace (empty for root)"}}}`),
			Handler:     t.list,
		},
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// resolve validates a relative path and returns its absolute form inside the
// sandbox.
func (t *Tools) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	for _, pattern := range sensitivePatterns {
		if filepath.Base(path) == pattern || strings.Contains(path, pattern) {
			return "", fmt.Errorf("refusing to touch sensitive file: %s", path)
		}
	}
	root, err := filepath.Abs(t.root)
	if err != nil {
		return "", err
	}
	resolved := filepath.Clean(filepath.Join(root, path))
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", path)
	}
	return resolved, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func languageFor(path string) string {
	if lang, ok := languageBySuffix[filepath.Ext(path)]; ok {
		return lang
	}
	return "plaintext"
}

// sideEvent builds one sse_events entry.
func sideEvent(eventType string, data map[string]any) map[string]any {
	return map[string]any{"type": eventType, "data": data}
}

func (t *Tools) read(_ context.Context, args map[string]any) (any, error) {
	path := stringArg(args, "path")
	resolved, err := t.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if info.Size() > MaxFileBytes {
		return nil, fmt.Errorf("file too large (%d bytes), limit %d", info.Size(), MaxFileBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	content := string(data)
	language := languageFor(path)
	return map[string]any{
		"path":     path,
		"content":  content,
		"language": language,
		"sse_events": []map[string]any{
			sideEvent(aster.EventFileOpen, map[string]any{
				"path":     path,
				"content":  content,
				"language": language,
			}),
		},
	}, nil
}

func (t *Tools) edit(_ context.Context, args map[string]any) (any, error) {
	path := stringArg(args, "path")
	resolved, err := t.resolve(path)
	if err != nil {
		return nil, err
	}

	content, hasContent := args["content"].(string)
	oldContent := stringArg(args, "old_content")
	newContent := stringArg(args, "new_content")

	switch {
	case hasContent:
		return t.create(resolved, path, content)
	case oldContent != "":
		return t.replace(resolved, path, oldContent, newContent)
	default:
		return nil, fmt.Errorf("edit_file needs content (create) or old_content/new_content (edit)")
	}
}

func (t *Tools) create(resolved, path, content string) (any, error) {
	if _, err := os.Stat(resolved); err == nil {
		return nil, fmt.Errorf("file already exists: %s (pass old_content/new_content to edit)", path)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return map[string]any{
		"path":    path,
		"created": true,
		"sse_events": []map[string]any{
			sideEvent(aster.EventFileChange, map[string]any{
				"path":    path,
				"content": content,
			}),
		},
	}, nil
}

func (t *Tools) replace(resolved, path, oldContent, newContent string) (any, error) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("edit %s: %w", path, err)
	}
	current := string(data)

	count := strings.Count(current, oldContent)
	if count == 0 {
		return nil, fmt.Errorf("old_content not found in %s", path)
	}
	if count > 1 {
		return nil, fmt.Errorf("old_content matches %d locations in %s; provide more context", count, path)
	}

	updated := strings.Replace(current, oldContent, newContent, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("edit %s: %w", path, err)
	}
	return map[string]any{
		"path":     path,
		"modified": true,
		"sse_events": []map[string]any{
			sideEvent(aster.EventFileChange, map[string]any{
				"path":    path,
				"content": updated,
			}),
		},
	}, nil
}

func (t *Tools) list(_ context.Context, args map[string]any) (any, error) {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	resolved, err := t.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	var files, dirs []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		} else {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	sort.Strings(dirs)

	return map[string]any{
		"path":        path,
		"files":       files,
		"directories": dirs,
	}, nil
}
