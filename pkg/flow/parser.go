package flow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single flow file.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses flow YAML: an optional config document, then a list of
// commands. A command is either a string or a mapping with a text key.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	parts := splitYAMLDocuments(string(data))
	if len(parts) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty flow file"}
	}

	flow := &Flow{SourcePath: sourcePath}
	commands := parts[0]
	if len(parts) > 1 {
		if err := yaml.Unmarshal([]byte(parts[0]), &flow.Config); err != nil {
			return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid config: %v", err)}
		}
		commands = parts[1]
	}

	if err := parseCommands(commands, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inBlock := false
	blockIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inBlock {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inBlock = true
				if i+1 < len(lines) {
					next := lines[i+1]
					blockIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < blockIndent {
				inBlock = false
			}
		}

		if !inBlock && trimmed == "---" && strings.TrimLeft(line, " \t") == "---" {
			if strings.TrimSpace(current.String()) != "" {
				parts = append(parts, current.String())
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}
	return parts
}

// rawCommand is the mapping form of a command.
type rawCommand struct {
	ID         string  `yaml:"id"`
	Text       string  `yaml:"text"`
	Command    string  `yaml:"command"` // alias of text
	Type       string  `yaml:"type"`
	Confidence float64 `yaml:"confidence"`
	App        string  `yaml:"app"`
}

func parseCommands(content string, flow *Flow) error {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return &ParseError{Path: flow.SourcePath, Message: fmt.Sprintf("invalid commands: %v", err)}
	}
	if len(doc.Content) == 0 {
		return &ParseError{Path: flow.SourcePath, Line: 1, Message: "no commands"}
	}
	list := doc.Content[0]
	if list.Kind != yaml.SequenceNode {
		return &ParseError{Path: flow.SourcePath, Line: list.Line, Message: "commands must be a list"}
	}

	for _, node := range list.Content {
		cmd, err := parseCommand(node, flow)
		if err != nil {
			return err
		}
		flow.Commands = append(flow.Commands, cmd)
	}
	return nil
}

func parseCommand(node *yaml.Node, flow *Flow) (core.Command, error) {
	var raw rawCommand
	switch node.Kind {
	case yaml.ScalarNode:
		raw.Text = node.Value
	case yaml.MappingNode:
		if err := node.Decode(&raw); err != nil {
			return core.Command{}, wrapParseError(flow.SourcePath, node.Line, err)
		}
		if raw.Text == "" {
			raw.Text = raw.Command
		}
	default:
		return core.Command{}, &ParseError{
			Path:    flow.SourcePath,
			Line:    node.Line,
			Message: "command must be a string or a mapping",
		}
	}

	text := strings.TrimSpace(expand(raw.Text, flow.Config.Env))
	if text == "" {
		return core.Command{}, &ParseError{Path: flow.SourcePath, Line: node.Line, Message: "command has no text"}
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return core.Command{}, &ParseError{
			Path:    flow.SourcePath,
			Line:    node.Line,
			Message: "confidence must be between 0 and 1, got " + strconv.FormatFloat(raw.Confidence, 'g', -1, 64),
		}
	}

	cmd := core.Command{
		ID:         raw.ID,
		Text:       text,
		Type:       raw.Type,
		Confidence: raw.Confidence,
		App:        expand(raw.App, flow.Config.Env),
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Type == "" {
		cmd.Type = DefaultCommandType
	}
	if cmd.Confidence == 0 {
		cmd.Confidence = 1
	}
	if cmd.App == "" {
		cmd.App = flow.Config.App
	}
	return cmd, nil
}

// expand substitutes ${VAR} from the flow env, then from the process env.
func expand(s string, env map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(key string) string {
		if v, ok := env[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses every .yaml/.yml file under dir, skipping files that
// fail to parse and flows filtered out by tags.
func ParseDirectory(dir string, includeTags, excludeTags []string) ([]*Flow, error) {
	var flows []*Flow

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		flow, parseErr := ParseFile(path)
		if parseErr != nil {
			slog.Warn("skipping flow", "path", path, "error", parseErr)
			return nil
		}

		if ShouldIncludeFlow(flow, includeTags, excludeTags) {
			flows = append(flows, flow)
		}
		return nil
	})

	return flows, err
}

// ShouldIncludeFlow applies tag filters: a flow must carry one of includeTags
// (when given) and none of excludeTags.
func ShouldIncludeFlow(flow *Flow, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 && !slices.ContainsFunc(flow.Config.Tags, func(tag string) bool {
		return slices.Contains(includeTags, tag)
	}) {
		return false
	}
	return !slices.ContainsFunc(flow.Config.Tags, func(tag string) bool {
		return slices.Contains(excludeTags, tag)
	})
}
