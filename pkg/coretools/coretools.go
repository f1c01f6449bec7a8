// Package coretools provides the built-in tools available to every strategy.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/harun/conductor/pkg/toolexecutor"
)

const defaultMaxReadBytes = 200000

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot bounds read_file and write_file. Empty disables both.
	WorkspaceRoot string
}

// RegisterCoreTools registers the baseline tools.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}

	tools := []toolexecutor.ToolDescriptor{
		echoTool(),
		concatTool(),
		countTool(),
		sleepTool(),
		failTool(),
	}
	if opts.WorkspaceRoot != "" {
		root, err := filepath.Abs(opts.WorkspaceRoot)
		if err != nil {
			return fmt.Errorf("resolve workspace root: %w", err)
		}
		tools = append(tools, readFileTool(root), writeFileTool(root))
	}

	for _, tool := range tools {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func echoTool() toolexecutor.ToolDescriptor {
	return toolexecutor.ToolDescriptor{
		Name:        "echo",
		Category:    "core",
		Version:     "1.0.0",
		Description: "Return the given parameters unchanged.",
		MaxRetries:  toolexecutor.Retries(0),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			out := make(map[string]interface{}, len(params))
			for k, v := range params {
				if k == toolexecutor.ParamChain {
					continue
				}
				out[k] = v
			}
			return out, nil
		},
	}
}

func concatTool() toolexecutor.ToolDescriptor {
	return toolexecutor.ToolDescriptor{
		Name:        "concat",
		Category:    "core",
		Version:     "1.0.0",
		Description: "Join parts into a single string. The previous chain output is appended when present.",
		MaxRetries:  toolexecutor.Retries(0),
		Parameters: []toolexecutor.ToolParameter{
			{Name: "parts", Type: "array", Description: "Values to join", Required: false},
			{Name: "separator", Type: "string", Description: "Separator (default single space)", Required: false, Default: " "},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			sep := " "
			if s, ok := params["separator"].(string); ok {
				sep = s
			}

			var parts []string
			if raw, ok := params["parts"].([]interface{}); ok {
				for _, p := range raw {
					parts = append(parts, fmt.Sprintf("%v", p))
				}
			}
			if prev, ok := params[toolexecutor.ParamPrevious]; ok && prev != nil {
				parts = append(parts, fmt.Sprintf("%v", prev))
			}
			return strings.Join(parts, sep), nil
		},
	}
}

func countTool() toolexecutor.ToolDescriptor {
	return toolexecutor.ToolDescriptor{
		Name:        "count",
		Category:    "core",
		Version:     "1.0.0",
		Description: "Count the characters of a string or the items of a list or object.",
		MaxRetries:  toolexecutor.Retries(0),
		Parameters: []toolexecutor.ToolParameter{
			{Name: "value", Type: "any", Description: "Value to measure", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			switch v := params["value"].(type) {
			case nil:
				return 0, nil
			case string:
				return len([]rune(v)), nil
			}
			rv := reflect.ValueOf(params["value"])
			switch rv.Kind() {
			case reflect.Slice, reflect.Array, reflect.Map:
				return rv.Len(), nil
			}
			return nil, fmt.Errorf("cannot count %T", params["value"])
		},
	}
}

func sleepTool() toolexecutor.ToolDescriptor {
	return toolexecutor.ToolDescriptor{
		Name:        "sleep",
		Category:    "core",
		Version:     "1.0.0",
		Description: "Wait for the given number of seconds.",
		MaxRetries:  toolexecutor.Retries(0),
		Parameters: []toolexecutor.ToolParameter{
			{Name: "seconds", Type: "number", Description: "Duration in seconds", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			d := parseDurationSeconds(params["seconds"], 0)
			start := time.Now()
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
			return map[string]interface{}{"slept_ms": time.Since(start).Milliseconds()}, nil
		},
	}
}

func failTool() toolexecutor.ToolDescriptor {
	return toolexecutor.ToolDescriptor{
		Name:        "fail",
		Category:    "core",
		Version:     "1.0.0",
		Description: "Always fail with the given message.",
		MaxRetries:  toolexecutor.Retries(0),
		Parameters: []toolexecutor.ToolParameter{
			{Name: "message", Type: "string", Description: "Error message", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			msg, _ := params["message"].(string)
			if msg == "" {
				msg = "failed on request"
			}
			return nil, errors.New(msg)
		},
	}
}

func readFileTool(root string) toolexecutor.ToolDescriptor {
	return toolexecutor.ToolDescriptor{
		Name:        "read_file",
		Category:    "fs",
		Version:     "1.0.0",
		Description: "Read a file from the workspace.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read", Required: false, Default: defaultMaxReadBytes},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(root, pathValue)
			if err != nil {
				return nil, err
			}

			maxBytes := int64(defaultMaxReadBytes)
			switch raw := params["max_bytes"].(type) {
			case float64:
				maxBytes = int64(raw)
			case int:
				maxBytes = int64(raw)
			case int64:
				maxBytes = raw
			}

			data, truncated, err := readFileWithLimit(target, maxBytes)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func writeFileTool(root string) toolexecutor.ToolDescriptor {
	return toolexecutor.ToolDescriptor{
		Name:        "write_file",
		Category:    "fs",
		Version:     "1.0.0",
		Description: "Write content to a file in the workspace.",
		MaxRetries:  toolexecutor.Retries(0),
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append to file (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(root, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)
			appendMode, _ := params["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}
			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if limit <= 0 {
		limit = defaultMaxReadBytes
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	extra := make([]byte, 1)
	n, _ := file.Read(extra)
	return buf.Bytes(), n > 0, nil
}

func resolvePathInWorkspace(root string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}

func parseDurationSeconds(value interface{}, fallback time.Duration) time.Duration {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case int64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return fallback
}
