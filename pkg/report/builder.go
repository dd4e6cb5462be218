package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/flow"
)

// BuilderConfig contains configuration for building the report skeleton.
type BuilderConfig struct {
	App           string // Default application
	Snapshot      string // Snapshot source
	RunnerVersion string
}

// BuildSkeleton creates the initial report structure from parsed flows.
// All flows and commands are set to "pending" status.
// This should be called after validation, before execution starts.
func BuildSkeleton(flows []*flow.Flow, cfg BuilderConfig) (*Index, []FlowDetail) {
	now := time.Now()

	index := &Index{
		Version:     Version,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		App:         cfg.App,
		Snapshot:    cfg.Snapshot,
		Runner:      RunnerInfo{Version: cfg.RunnerVersion},
		Summary: Summary{
			Total:   len(flows),
			Pending: len(flows),
		},
		Flows: make([]FlowEntry, len(flows)),
	}

	flowDetails := make([]FlowDetail, len(flows))

	for i, f := range flows {
		flowID := fmt.Sprintf("flow-%03d", i)
		flowName := extractFlowName(f)
		commands := buildCommands(f)

		index.Flows[i] = FlowEntry{
			Index:      i,
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			DataFile:   filepath.Join("flows", flowID+".json"),
			Status:     StatusPending,
			Commands: CommandSummary{
				Total:   len(commands),
				Pending: len(commands),
			},
		}

		flowDetails[i] = FlowDetail{
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			Tags:       f.Config.Tags,
			App:        f.Config.App,
			Commands:   commands,
		}
	}

	return index, flowDetails
}

// extractFlowName extracts a display name from the flow.
func extractFlowName(f *flow.Flow) string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	// Use filename without extension
	base := filepath.Base(f.SourcePath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

func buildCommands(f *flow.Flow) []Command {
	commands := make([]Command, len(f.Commands))
	for i, cmd := range f.Commands {
		commands[i] = Command{
			ID:     cmd.ID,
			Index:  i,
			Text:   cmd.Text,
			App:    cmd.App,
			Status: StatusPending,
		}
	}
	return commands
}

// WriteSkeleton writes the initial skeleton to disk: report.json and every
// flow detail file, all pending.
func WriteSkeleton(outputDir string, index *Index, flowDetails []FlowDetail) error {
	if err := ensureDir(filepath.Join(outputDir, "flows")); err != nil {
		return fmt.Errorf("create flows dir: %w", err)
	}

	for _, fd := range flowDetails {
		flowPath := filepath.Join(outputDir, "flows", fd.ID+".json")
		if err := atomicWriteJSON(flowPath, fd); err != nil {
			return fmt.Errorf("write flow %s: %w", fd.ID, err)
		}
	}

	if err := atomicWriteJSON(filepath.Join(outputDir, "report.json"), index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// ResolveOutputDir determines the report directory:
//   - no output: ./reports/<timestamp>/
//   - output given: <output>/<timestamp>/
//   - output + flatten: <output>/
func ResolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}
	if output == "" {
		output = "reports"
	}
	output = filepath.Clean(output)
	if flatten {
		return output, nil
	}
	return filepath.Join(output, time.Now().Format("2006-01-02_15-04-05")), nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
