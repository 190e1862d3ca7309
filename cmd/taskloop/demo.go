package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/taskloop/internal/config"
	"github.com/seantiz/taskloop/internal/engine"
	"github.com/seantiz/taskloop/internal/model"
	"github.com/seantiz/taskloop/internal/snapshot"
	"github.com/seantiz/taskloop/internal/work"
)

func newDemoCmd(configPath *string) *cobra.Command {
	var frames int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a sample batch of tasks and print the task table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return demo(cmd.Context(), cfg, frames)
		},
	}

	cmd.Flags().IntVar(&frames, "frames", 500, "maximum frames to drive before giving up")
	return cmd
}

// demoTask is one submission in the demo batch.
type demoTask struct {
	kind        string
	params      string
	description string
	timeout     time.Duration
}

var demoTasks = []demoTask{
	{kind: work.KindSleep, params: `{"seconds": 0.2, "result": "rested"}`, description: "short nap"},
	{kind: work.KindSleep, params: `{"seconds": 0.5, "result": 42}`, description: "long nap"},
	{kind: work.KindFail, params: `{"seconds": 0.3, "message": "disk on fire"}`, description: "doomed"},
	{kind: work.KindSleep, params: `{"seconds": 10}`, description: "too slow", timeout: 400 * time.Millisecond},
}

func demo(ctx context.Context, cfg *config.Config, frames int) error {
	logger := config.NewLogger(os.Stderr, cfg.Level())

	econf := cfg.Engine()
	econf.UpdateTable = true
	table := snapshot.NewTable()
	manager := engine.NewManager(econf, table, logger)
	defer manager.Close()

	kinds := work.DefaultRegistry(nil, cfg.FetchAllowHosts)
	for _, dt := range demoTasks {
		w, err := kinds.Build(dt.kind, json.RawMessage(dt.params))
		if err != nil {
			return fmt.Errorf("build %s: %w", dt.description, err)
		}
		_, err = manager.Run(w,
			engine.WithDescription(dt.description),
			engine.WithTimeout(dt.timeout),
			engine.WithInfo(map[string]any{"kind": dt.kind}),
			engine.WithCallback(func(t model.Task) {
				logger.Info("demo task finished", "task_id", t.ID, "status", t.Status)
			}),
		)
		if err != nil {
			return fmt.Errorf("submit %s: %w", dt.description, err)
		}
	}

	ticker := time.NewTicker(cfg.FrameInterval)
	defer ticker.Stop()
	for i := 0; i < frames && manager.GetActiveTasksCount() > 0; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			manager.Update()
		}
	}
	// One more frame fires callbacks for tasks finalized by the last one.
	manager.Update()

	console := snapshot.NewConsole(os.Stdout)
	if err := console.Write(ctx, table.Rows()); err != nil {
		return fmt.Errorf("print task table: %w", err)
	}

	sum := manager.Summary()
	fmt.Printf("\n%d tasks: %d completed, %d failed, %d timed out, %d cancelled\n",
		sum.Total, sum.Completed, sum.Failed, sum.TimedOut, sum.Cancelled)
	return nil
}
