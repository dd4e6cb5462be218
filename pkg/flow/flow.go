// Package flow parses YAML command lists into engine commands.
package flow

import "github.com/devicelab-dev/axrunner/pkg/core"

// DefaultCommandType is assigned to commands that do not name a type.
const DefaultCommandType = "gui_interaction"

// Flow is a parsed command file.
type Flow struct {
	SourcePath string         // Path to the source file
	Config     Config         // Flow configuration (app, tags, etc.)
	Commands   []core.Command // Commands in file order
}

// Config is the optional header document of a flow file.
type Config struct {
	App  string            `yaml:"app"` // Default application for every command
	Name string            `yaml:"name"`
	Tags []string          `yaml:"tags"`
	Env  map[string]string `yaml:"env"`
}

// Texts returns the command texts in order.
func (f *Flow) Texts() []string {
	texts := make([]string, len(f.Commands))
	for i, c := range f.Commands {
		texts[i] = c.Text
	}
	return texts
}

// Name returns the configured name, or the source path when unnamed.
func (f *Flow) Name() string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	return f.SourcePath
}
