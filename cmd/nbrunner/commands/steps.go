package commands

import (
	"fmt"

	"git.home.luguber.info/inful/nbrunner/internal/notebook"
)

// StepsCmd implements the 'steps' command.
type StepsCmd struct {
	Notebook string `arg:"" help:"Notebook file" type:"existingfile"`
}

func (s *StepsCmd) Run(_ *Global, _ *CLI) error {
	nb, err := notebook.ReadFile(s.Notebook)
	if err != nil {
		return err
	}
	for _, step := range nb.Steps() {
		fmt.Println(step)
	}
	return nil
}
