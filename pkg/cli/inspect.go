package cli

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/axrunner/pkg/axsource"
	"github.com/devicelab-dev/axrunner/pkg/config"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/extract"
	"github.com/devicelab-dev/axrunner/pkg/role"
	"github.com/devicelab-dev/axrunner/pkg/telemetry/sqlitesink"
	"github.com/devicelab-dev/axrunner/pkg/walker"
)

var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Print JSON instead of text",
}

var extractCommand = &cli.Command{
	Name:      "extract",
	Usage:     "Show the search phrase and action extracted from a command",
	ArgsUsage: "<command text>",
	Flags:     []cli.Flag{jsonFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return fmt.Errorf("command text is required")
		}
		text := strings.Join(c.Args().Slice(), " ")
		res := extract.New(config.Default().Extractor, nil).Extract(text)
		return printExtraction(os.Stdout, res, c.Bool("json"))
	},
}

func printExtraction(w io.Writer, res extract.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "  target:     %q\n", res.Target)
	fmt.Fprintf(w, "  action:     %s\n", res.Action)
	fmt.Fprintf(w, "  confidence: %.2f\n", res.Confidence)
	if len(res.RemovedWords) > 0 {
		fmt.Fprintf(w, "  removed:    %s\n", strings.Join(res.RemovedWords, ", "))
	}
	return nil
}

var treeCommand = &cli.Command{
	Name:  "tree",
	Usage: "Print the accessibility tree of an application snapshot",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "depth",
			Usage: "Maximum traversal depth (default: walker.max_depth)",
		},
		&cli.BoolFlag{
			Name:  "actionable",
			Usage: "Only print elements the dispatcher can act on",
		},
		jsonFlag,
	},
	Action: func(c *cli.Context) error {
		ws, err := loadWorkspace(c)
		if err != nil {
			return err
		}
		return printTree(c.Context, os.Stdout, ws, c.Int("depth"), c.Bool("actionable"), c.Bool("json"))
	},
}

func printTree(ctx context.Context, w io.Writer, ws *config.Config, depth int, actionable, asJSON bool) error {
	snapshot := ws.Snapshot
	if snapshot == "" {
		snapshot = config.GetSnapshotsDir()
	}
	resolver := &axsource.FileResolver{Path: snapshot}
	root, err := resolver.ApplicationRoot(ctx, ws.App)
	if err != nil {
		return fmt.Errorf("%w (%s)", err, core.RemediationHint(core.KindOf(err)))
	}

	classifier := role.New(role.WithMapping(ws.RoleMapping()))
	wk := walker.New(ws.Walker, classifier, nil)
	if depth <= 0 {
		depth = wk.MaxDepth()
	}
	records := wk.Traverse(ctx, root, depth)

	var shown []*core.ElementRecord
	if actionable {
		shown = classifier.Filter(records)
	} else {
		for i := range records {
			shown = append(shown, &records[i])
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(shown)
	}

	fmt.Fprintf(w, "  %s%s%s (pid %d), %d elements\n",
		color(colorBold), root.App.Name, color(colorReset), root.App.PID, len(shown))
	for _, rec := range shown {
		indent := strings.Repeat("  ", rec.Depth+1)
		state := ""
		if !rec.Enabled {
			state = color(colorGray) + " disabled" + color(colorReset)
		}
		b := rec.Bounds
		fmt.Fprintf(w, "%s%s%s%s %q %s[%d,%d %dx%d]%s%s\n",
			indent, color(colorCyan), rec.Role, color(colorReset), rec.Label(),
			color(colorDim), b.X, b.Y, b.Width, b.Height, color(colorReset), state)
	}
	return nil
}

var statsCommand = &cli.Command{
	Name:      "stats",
	Usage:     "Summarise telemetry recorded in a SQLite database",
	ArgsUsage: "[database]",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			ws, err := loadWorkspace(c)
			if err != nil {
				return err
			}
			path = cmp.Or(ws.Telemetry.SQLite, config.DefaultTelemetryDB())
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("telemetry database: %w", err)
		}

		store, err := sqlitesink.Open(path, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Summary(c.Context)
		if err != nil {
			return err
		}
		printStats(os.Stdout, stats)
		return nil
	},
}
