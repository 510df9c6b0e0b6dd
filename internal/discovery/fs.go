package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bgricker/buildgate/internal/config"
)

var (
	// ErrNoWorkflows indicates that no workflow files were found during discovery.
	ErrNoWorkflows = errors.New("no workflows discovered")
	// ErrNoConfig is returned when no config file exists between the start
	// directory and the repository root.
	ErrNoConfig = errors.New("no " + config.FileName + " found")
)

// AutoWorkflows asks Workflows to scan .github/workflows.
const AutoWorkflows = "auto"

var workflowExts = []string{".yml", ".yaml"}

// ConfigFile walks up from start looking for the config file. The search stops
// at the first directory holding a .git entry.
func ConfigFile(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", start, err)
	}
	for {
		candidate := filepath.Join(dir, config.FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return "", ErrNoConfig
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoConfig
		}
		dir = parent
	}
}

// Workflows returns workflow file paths relative to root. spec is either
// AutoWorkflows, which scans .github/workflows and sorts the result, or a
// comma separated list of files returned in the order given.
func Workflows(root, spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == AutoWorkflows {
		return scan(root)
	}
	return resolveExplicit(root, strings.Split(spec, ","))
}

func scan(root string) ([]string, error) {
	dir := filepath.Join(root, ".github", "workflows")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoWorkflows
		}
		return nil, fmt.Errorf("read %q: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !hasWorkflowExt(entry.Name()) {
			continue
		}
		paths = append(paths, relOrClean(root, filepath.Join(dir, entry.Name())))
	}
	if len(paths) == 0 {
		return nil, ErrNoWorkflows
	}
	sort.Strings(paths)
	return paths, nil
}

func hasWorkflowExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range workflowExts {
		if ext == want {
			return true
		}
	}
	return false
}

func resolveExplicit(root string, explicit []string) ([]string, error) {
	seen := make(map[string]struct{})
	resolved := make([]string, 0, len(explicit))
	for _, input := range explicit {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		cleaned := input
		if !filepath.IsAbs(cleaned) {
			cleaned = filepath.Join(root, cleaned)
		}
		info, err := os.Stat(cleaned)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("workflow %q not found", input)
			}
			return nil, fmt.Errorf("stat %q: %w", input, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("workflow %q is a directory", input)
		}
		rel := relOrClean(root, cleaned)
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		resolved = append(resolved, rel)
	}
	if len(resolved) == 0 {
		return nil, ErrNoWorkflows
	}
	return resolved, nil
}

// relOrClean keeps paths inside root relative and everything else absolute.
func relOrClean(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Clean(path)
	}
	rel = filepath.Clean(rel)
	if rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Clean(path)
	}
	return rel
}
