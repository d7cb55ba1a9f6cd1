package cli

// This file contains experiment identity resolution: turning the
// trigger and merge-target references into the immutable set of
// revisions and image tags a run is keyed by.

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/regressctl/regressctl/model"
)

// resolveIdentity resolves both references exactly once and derives
// the image tags from the results. The baseline is whatever the merge
// target points at right now, resolved independently of the trigger;
// callers must hold on to the returned Identity instead of resolving
// again, since the merge target may move underneath a long run.
func (a *App) resolveIdentity(ctx context.Context, triggerRef, mergeTarget, scope string) (model.Identity, error) {
	if triggerRef == "" {
		return model.Identity{}, fmt.Errorf("%w: trigger ref is empty", ErrInvalidReference)
	}

	trigger, err := a.git.Resolve(ctx, triggerRef)
	if err != nil {
		return model.Identity{}, err
	}

	baseline, err := a.git.Resolve(ctx, mergeTarget)
	if err != nil {
		return model.Identity{}, err
	}

	id := model.Identity{
		RunID:         uuid.New().String(),
		Scope:         scope,
		TriggerRef:    trigger,
		BaselineRef:   baseline,
		ComparisonRef: trigger,
		BaselineTag:   model.Tag(trigger, baseline),
		ComparisonTag: model.Tag(trigger, trigger),
	}

	a.logger.Debug().
		Str("run_id", id.RunID).
		Str("trigger", id.TriggerRef).
		Str("baseline", id.BaselineRef).
		Str("baseline_tag", id.BaselineTag).
		Str("comparison_tag", id.ComparisonTag).
		Msg("Resolved experiment identity")

	return id, nil
}
