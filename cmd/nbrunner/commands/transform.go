package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"git.home.luguber.info/inful/nbrunner/internal/notebook"
)

// TransformCmd implements the 'transform' command.
type TransformCmd struct {
	Input  string `arg:"" help:"Source notebook" type:"existingfile"`
	Output string `short:"o" help:"Where to write the transformed notebook" default:"transformed.ipynb"`
	Mode   string `short:"m" help:"Execution mode (local or cloud)" default:"local" enum:"local,cloud"`
}

func (t *TransformCmd) Run(_ *Global, _ *CLI) error {
	mode, err := notebook.ParseMode(t.Mode)
	if err != nil {
		return err
	}
	rep, err := notebook.TransformFile(t.Input, t.Output, mode)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
