// Package cli provides the command-line interface for axrunner.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to workspace axrunner.yaml (default: ./axrunner.yaml if present)",
		EnvVars: []string{"AXRUNNER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "app",
		Aliases: []string{"a"},
		Usage:   "Default target application",
		EnvVars: []string{"AXRUNNER_APP"},
	},
	&cli.StringFlag{
		Name:    "snapshot",
		Aliases: []string{"s"},
		Usage:   "Accessibility snapshot file or directory",
		EnvVars: []string{"AXRUNNER_SNAPSHOT"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"AXRUNNER_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write logs to this file instead of stderr",
		EnvVars: []string{"AXRUNNER_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// Execute runs the CLI.
func Execute() {
	// A .env file in the working directory supplies AXRUNNER_* defaults.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "axrunner",
		Usage:   "Accessibility fast path for natural-language GUI commands",
		Version: Version,
		Description: `axrunner resolves natural-language commands ("Click on the Gmail link")
against an application's accessibility tree and acts on the matched element.
Commands the fast path cannot resolve are handed to the slow path together
with search diagnostics.

Examples:
  axrunner run flow.yaml
  axrunner run flows/ --include-tags smoke -e LABEL=Gmail
  axrunner --snapshot snapshots/ tree --app Mail --actionable
  axrunner extract "Click on the Gmail link"`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			extractCommand,
			treeCommand,
			statsCommand,
			validateCommand,
		},
	}
}
