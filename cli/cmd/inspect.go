package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rndnanthu/Comfyui-Livepreview/cli/tui"
	"github.com/rndnanthu/Comfyui-Livepreview/persist"
)

// InspectCommand returns the inspect command: a read-only deep view of a
// saved execution record.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect a saved execution record",
		ArgsUsage: "<record-path>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("record path required", 1)
	}
	path := c.Args().First()

	rec, err := persist.ReadRecord(path, c.String("format"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read record: %v", err), 1)
	}

	if c.Bool("tui") {
		return tui.RunInspectTUI(rec)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
