package github

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bgricker/buildgate/internal/pipeline"
	"github.com/bgricker/buildgate/internal/provider"
)

const ProviderName = "github"

// anyBranch is used when a workflow event has no branch filter.
const anyBranch = "/.*/"

// Parser loads GitHub Actions workflow files from disk.
type Parser struct {
	Root string
}

// NewParser constructs a Parser that resolves workflow paths relative to root.
func NewParser(root string) *Parser {
	return &Parser{Root: root}
}

// Parse reads the supplied workflow paths and extracts their triggers.
func (p *Parser) Parse(paths []string) (provider.Import, error) {
	imp := provider.Import{Provider: ProviderName}
	for _, relPath := range paths {
		full := relPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.Root, relPath)
		}
		wf, warnings, err := parseWorkflow(full, relPath)
		if err != nil {
			return provider.Import{}, err
		}
		imp.Workflows = append(imp.Workflows, wf)
		imp.Warnings = append(imp.Warnings, warnings...)
	}
	return imp, nil
}

func parseWorkflow(fullPath, displayPath string) (provider.Workflow, []provider.Warning, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return provider.Workflow{}, nil, fmt.Errorf("open workflow %q: %w", displayPath, err)
	}
	defer f.Close()
	return decodeWorkflow(f, displayPath)
}

type workflowDocument struct {
	Name string    `yaml:"name"`
	On   yaml.Node `yaml:"on"`
}

type eventFilter struct {
	Branches       stringList `yaml:"branches"`
	BranchesIgnore stringList `yaml:"branches-ignore"`
	Paths          stringList `yaml:"paths"`
	PathsIgnore    stringList `yaml:"paths-ignore"`
	Tags           stringList `yaml:"tags"`
}

// stringList accepts either a scalar or a sequence.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*s = nil
			return nil
		}
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list", node.Line)
	}
}

func decodeWorkflow(r io.Reader, displayPath string) (provider.Workflow, []provider.Warning, error) {
	decoder := yaml.NewDecoder(r)

	var wfDoc workflowDocument
	if err := decoder.Decode(&wfDoc); err != nil && !errors.Is(err, io.EOF) {
		return provider.Workflow{}, nil, fmt.Errorf("parse workflow %q: %w", displayPath, err)
	}

	wf := provider.Workflow{Path: displayPath, Name: wfDoc.Name}
	if wf.Name == "" {
		wf.Name = filepath.Base(displayPath)
	}

	warn := func(format string, args ...any) provider.Warning {
		return provider.Warning{Workflow: displayPath, Message: fmt.Sprintf(format, args...)}
	}
	warnings := make([]provider.Warning, 0)

	events, err := eventFilters(&wfDoc.On)
	if err != nil {
		return provider.Workflow{}, nil, fmt.Errorf("parse workflow %q: %w", displayPath, err)
	}
	if len(events) == 0 {
		warnings = append(warnings, warn("workflow has no on: triggers"))
	}

	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		evType, err := pipeline.ParseEventType(name)
		if err != nil {
			warnings = append(warnings, warn("event %q is not supported", name))
			continue
		}
		filter := events[name]
		if len(filter.BranchesIgnore) > 0 {
			warnings = append(warnings, warn("%s: branches-ignore is not supported", name))
		}
		if len(filter.Paths) > 0 || len(filter.PathsIgnore) > 0 {
			warnings = append(warnings, warn("%s: path filters are ignored", name))
		}
		if len(filter.Tags) > 0 {
			warnings = append(warnings, warn("%s: tag filters are ignored", name))
		}

		rule := pipeline.TriggerRule{Events: []pipeline.EventType{evType}}
		for _, branch := range filter.Branches {
			if strings.HasPrefix(branch, "!") {
				warnings = append(warnings, warn("%s: negated branch %q is not supported", name, branch))
				continue
			}
			rule.Branches = append(rule.Branches, BranchPattern(branch))
		}
		if len(rule.Branches) == 0 {
			if len(filter.Branches) > 0 {
				// Only negations were listed; nothing can match.
				continue
			}
			rule.Branches = []string{anyBranch}
		}
		wf.Triggers = append(wf.Triggers, rule)
	}

	return wf, warnings, nil
}

// eventFilters normalizes the three shapes of `on:` (scalar, list, map).
func eventFilters(node *yaml.Node) (map[string]eventFilter, error) {
	out := make(map[string]eventFilter)
	switch node.Kind {
	case 0:
		return out, nil
	case yaml.ScalarNode:
		if node.Value != "" {
			out[node.Value] = eventFilter{}
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: on: list entries must be event names", item.Line)
			}
			out[item.Value] = eventFilter{}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			var filter eventFilter
			if value.Kind == yaml.MappingNode {
				if err := value.Decode(&filter); err != nil {
					return nil, fmt.Errorf("on.%s: %w", key.Value, err)
				}
			}
			out[key.Value] = filter
		}
	default:
		return nil, fmt.Errorf("line %d: unsupported on: block", node.Line)
	}
	return out, nil
}

var globChars = regexp.MustCompile(`[*?+\[]`)

// BranchPattern converts a GitHub branch filter into a trigger pattern.
// Literal names stay literal; glob filters become an anchored /regexp/ so
// the matcher never globs implicitly.
func BranchPattern(glob string) string {
	glob = strings.TrimSpace(glob)
	if !globChars.MatchString(glob) {
		return glob
	}
	var b strings.Builder
	b.WriteString("/^")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?', '+':
			b.WriteByte(c)
		case '[':
			end := strings.IndexByte(glob[i:], ']')
			if end == -1 {
				b.WriteString(`\[`)
				continue
			}
			b.WriteString(glob[i : i+end+1])
			i += end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$/")
	return b.String()
}
