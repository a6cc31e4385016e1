package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"git.home.luguber.info/inful/nbrunner/internal/pipeline"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Notebook string            `short:"n" help:"Notebook path inside the source repository (defaults to github.notebook_path)"`
	Mode     string            `short:"m" help:"Execution mode (local or cloud)"`
	Step     []string          `short:"s" help:"Run only these steps (repeatable)"`
	Param    map[string]string `short:"p" help:"Extra notebook parameter NAME=VALUE (repeatable)"`
	RunsDB   string            `name:"runs-db" help:"Record the run in this SQLite database"`
	WorkDir  string            `name:"work-dir" help:"Parent directory for the working directory"`
	Keep     bool              `name:"keep-work-dir" help:"Leave the working directory on disk after the run"`
}

func (c *RunCmd) Run(_ *Global, root *CLI) error {
	ctx := context.Background()
	svc, err := newRuntime(ctx, root.Config, environment(), wiring{RunsDB: c.RunsDB, WorkDir: c.WorkDir})
	if err != nil {
		return err
	}
	defer svc.close()

	res := svc.runner.Run(ctx, c.request())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if !res.OK() {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("%s", res.Message)
	}
	return nil
}

func (c *RunCmd) request() pipeline.Request {
	req := pipeline.Request{
		NotebookPath: c.Notebook,
		Mode:         c.Mode,
		Steps:        c.Step,
		Trigger:      pipeline.TriggerCLI,
		KeepWorkDir:  c.Keep,
	}
	if len(c.Param) > 0 {
		req.Parameters = make(map[string]any, len(c.Param))
		for k, v := range c.Param {
			req.Parameters[k] = v
		}
	}
	return req
}
