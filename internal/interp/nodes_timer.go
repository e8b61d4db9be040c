package interp

import (
	"context"
	"time"

	"github.com/flowcraft/orchestrator/internal/model"
)

// timerHandler implements spec §4.1.4: a plain delay with no outputs
// beyond a completion marker.
func timerHandler(ctx context.Context, ist *interpreterState, node *model.Node) (any, *int, error) {
	seconds := timerDurationSeconds(node.Config)
	f := ist.wfCtx.CreateTimer(ctx, time.Duration(seconds)*time.Second)
	if err := f.Get(ctx, nil); err != nil {
		return nil, nil, err
	}
	return map[string]any{"completed": true}, nil, nil
}

func timerDurationSeconds(cfg map[string]any) int {
	if _, ok := cfg["durationSeconds"]; ok {
		return intVal(cfg, "durationSeconds", 60)
	}
	if _, ok := cfg["durationMinutes"]; ok {
		return intVal(cfg, "durationMinutes", 1) * 60
	}
	if _, ok := cfg["durationHours"]; ok {
		return intVal(cfg, "durationHours", 1) * 3600
	}
	return 60
}
