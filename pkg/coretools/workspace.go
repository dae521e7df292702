package coretools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/agentfactory/pkg/toolexecutor"
)

const (
	defaultReadLimit   = 200000
	defaultSearchLimit = 50
)

// WorkspaceTools returns read_file and search_code confined to root.
func WorkspaceTools(root string) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		readFileTool(root),
		searchCodeTool(root),
	}
}

func readFileTool(root string) toolexecutor.ToolDefinition {
	return toolexecutor.DefineTool(
		"read_file",
		"Read a file from the workspace.",
		[]toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)", Default: defaultReadLimit},
		},
		func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(root, pathValue)
			if err != nil {
				return nil, toolexecutor.NewToolError(toolexecutor.CodeInvalidArgument, err.Error())
			}

			maxBytes := int64(defaultReadLimit)
			if raw, ok := numberParam(params, "max_bytes"); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			data, truncated, err := readFileWithLimit(target, maxBytes)
			if errors.Is(err, fs.ErrNotExist) {
				return nil, toolexecutor.ToolErrorf(toolexecutor.CodeNotFound, "file %s not found", pathValue)
			}
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
	)
}

func searchCodeTool(root string) toolexecutor.ToolDefinition {
	return toolexecutor.DefineTool(
		"search_code",
		"Search workspace files for a literal string and return matching lines.",
		[]toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Text to search for", Required: true},
			{Name: "glob", Type: "string", Description: "Optional file name pattern, e.g. *.go"},
			{Name: "max_results", Type: "number", Description: "Maximum matches to return (default 50)", Default: defaultSearchLimit},
		},
		func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, toolexecutor.NewToolError(toolexecutor.CodeInvalidArgument, "query is required")
			}
			pattern, _ := params["glob"].(string)
			limit := defaultSearchLimit
			if raw, ok := numberParam(params, "max_results"); ok && raw > 0 {
				limit = int(raw)
			}

			matches, err := searchWorkspace(ctx, root, query, pattern, limit)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"query":   query,
				"matches": matches,
				"count":   len(matches),
			}, nil
		},
	)
}

// Match is one line found by search_code
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func searchWorkspace(ctx context.Context, root, query, pattern string, limit int) ([]Match, error) {
	matches := []Match{}
	errLimit := errors.New("limit reached")

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, d.Name()); !ok {
				return nil
			}
		}

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		rel, _ := filepath.Rel(root, path)
		scanner := bufio.NewScanner(file)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if strings.Contains(text, query) {
				matches = append(matches, Match{Path: filepath.ToSlash(rel), Line: line, Text: strings.TrimSpace(text)})
				if len(matches) >= limit {
					return errLimit
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, err
	}
	return matches, nil
}

func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", err
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
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", fmt.Errorf("path %q is outside workspace root", pathValue)
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if limit <= 0 {
		limit = defaultReadLimit
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	extra := make([]byte, 1)
	_, err = file.Read(extra)
	return buf.Bytes(), err == nil, nil
}
