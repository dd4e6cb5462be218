package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/axrunner/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check flow files without dispatching them",
	ArgsUsage: "<flow-file-or-folder>...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},
	},
	Action: func(c *cli.Context) error {
		ws, err := loadWorkspace(c)
		if err != nil {
			return err
		}
		paths := c.Args().Slice()
		if len(paths) == 0 {
			paths = ws.Flows
		}
		if len(paths) == 0 {
			return fmt.Errorf("at least one flow file or folder is required")
		}
		res := validator.New(c.StringSlice("include-tags"), c.StringSlice("exclude-tags"),
			validator.WithDefaultApp(defaultApp(ws))).Validate(paths...)
		return printValidation(os.Stdout, res)
	},
}

func printValidation(w io.Writer, res *validator.Result) error {
	for _, f := range res.Flows {
		fmt.Fprintf(w, "  %s %s %s(%d commands)%s\n", color(colorGreen)+"✓"+color(colorReset), f.SourcePath, color(colorGray), len(f.Commands), color(colorReset))
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  %s %v\n", color(colorYellow)+"!"+color(colorReset), warn)
	}
	for _, err := range res.Errors {
		fmt.Fprintf(w, "  %s %v\n", color(colorRed)+"✗"+color(colorReset), err)
	}
	if !res.IsValid() {
		return fmt.Errorf("%d validation error(s)", len(res.Errors))
	}
	fmt.Fprintf(w, "\n%d flow(s) valid\n", len(res.Flows))
	return nil
}
