package condor

import (
	"context"
	"log/slog"
)

// Plan says which scheduler steps to run after the artifacts are written.
type Plan struct {
	Submit  bool
	Monitor bool
}

// Outcome records what the controller did.
type Outcome struct {
	Submitted   bool `json:"submitted"`
	Monitored   bool `json:"monitored"`
	Interrupted bool `json:"interrupted,omitempty"`
}

// Controller runs the optional submit and monitor steps for a written
// workflow.
type Controller struct {
	Scheduler Scheduler
	Logger    *slog.Logger
}

// Run submits dagPath if requested and then, if requested, blocks watching
// logPath. Monitoring without submission is skipped with a warning. A
// cancelled ctx during monitoring ends Run normally with Interrupted set.
func (c *Controller) Run(ctx context.Context, dagPath, logPath string, plan Plan) (Outcome, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var out Outcome
	if !plan.Submit {
		if plan.Monitor {
			logger.Warn("monitor requested without submit, skipping", "dag", dagPath)
		}
		return out, nil
	}

	logger.Info("submitting workflow", "dag", dagPath)
	if err := c.Scheduler.Submit(ctx, dagPath); err != nil {
		return out, err
	}
	out.Submitted = true
	logger.Info("workflow submitted", "dag", dagPath)

	if !plan.Monitor {
		return out, nil
	}

	logger.Info("monitoring workflow", "log", logPath)
	if err := c.Scheduler.Monitor(ctx, logPath); err != nil {
		return out, err
	}
	out.Monitored = true
	if ctx.Err() != nil {
		out.Interrupted = true
		logger.Info("monitoring interrupted, workflow continues in the scheduler", "dag", dagPath)
	}
	return out, nil
}
