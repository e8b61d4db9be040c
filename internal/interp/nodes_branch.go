package interp

import (
	"context"
	"sort"
	"time"

	"github.com/flowcraft/orchestrator/internal/condition"
	"github.com/flowcraft/orchestrator/internal/model"
	"github.com/flowcraft/orchestrator/internal/template"
)

// ifElseHandler implements spec §4.1.5: evaluate one condition triple,
// compute the reachable-set of the unchosen branch minus the chosen
// branch's reachable set, and mark the difference skipped.
func ifElseHandler(_ context.Context, ist *interpreterState, node *model.Node) (any, *int, error) {
	left := template.Resolve(node.Config["left"], ist.outputs)
	right := template.Resolve(node.Config["right"], ist.outputs)
	operator := strVal(node.Config, "operator")

	met := condition.Evaluate([][]condition.Condition{{{Operator: operator, FirstValue: left, SecondValue: right}}})
	branch, other := "false", "true"
	if met {
		branch, other = "true", "false"
	}

	chosenSet := model.ReachableFrom(ist.edgesBySource, node.ID, branch)
	otherSet := model.ReachableFrom(ist.edgesBySource, node.ID, other)

	var skipped []string
	for id := range otherSet {
		if _, inChosen := chosenSet[id]; inChosen {
			continue
		}
		if id == node.ID {
			continue
		}
		ist.skipSet.Add(id, node.ID)
		skipped = append(skipped, id)
	}
	sort.Strings(skipped)

	return model.NewBranchResult(met, branch, operator, skipped), nil, nil
}

// loopUntilHandler implements spec §4.1.6. Unlike every other node type it
// needs the current execution index to validate loopStartNodeId and to
// produce a jump target, so the main run loop calls it directly instead of
// going through the generic dispatch table.
func loopUntilHandler(ctx context.Context, ist *interpreterState, node *model.Node, currentIndex int) (any, *int, error) {
	left := template.Resolve(node.Config["left"], ist.outputs)
	right := template.Resolve(node.Config["right"], ist.outputs)
	operator := strVal(node.Config, "operator")
	loopStartNodeID := strVal(node.Config, "loopStartNodeId")
	maxIterations := intVal(node.Config, "maxIterations", 10)
	if maxIterations < 1 {
		maxIterations = 10
	}
	delaySeconds := intVal(node.Config, "delaySeconds", 0)
	onMaxIterations := strVal(node.Config, "onMaxIterations")
	if onMaxIterations == "" {
		onMaxIterations = "fail"
	}

	met := condition.Evaluate([][]condition.Condition{{{Operator: operator, FirstValue: left, SecondValue: right}}})
	c := ist.loopCounters[node.ID]

	if met {
		return model.NewLoopResult(true, c, nil), nil, nil
	}

	startIndex := ist.instance.Definition.IndexOf(loopStartNodeID)
	if startIndex < 0 || startIndex >= currentIndex {
		return nil, nil, &model.ConfigError{NodeID: node.ID, Reason: "loopStartNodeId must reference a node earlier in executionOrder"}
	}

	if c+1 > maxIterations {
		if onMaxIterations == "continue" {
			return model.NewLoopResult(false, c, map[string]any{"exceededMaxIterations": true, "exitedLoop": true}), nil, nil
		}
		return nil, nil, &model.LoopBoundsError{NodeID: node.ID, Max: maxIterations}
	}

	ist.loopCounters[node.ID] = c + 1
	if delaySeconds > 0 {
		if err := ist.wfCtx.CreateTimer(ctx, time.Duration(delaySeconds)*time.Second).Get(ctx, nil); err != nil {
			return nil, nil, err
		}
	}

	idx := startIndex
	return model.NewLoopResult(false, c, map[string]any{"jumpToIndex": startIndex}), &idx, nil
}
