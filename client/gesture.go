package client

import (
	"context"
	"fmt"

	"github.com/sajor2000/labmanager-sub002/domain"
)

// Gesture is the raw drop event a drag interaction produces: the dragged
// item, the container it was dropped on and the index it landed at.
type Gesture struct {
	ItemID        string
	ToContainerID string
	ToIndex       int
}

// Orchestrator turns drop gestures into tagged move intents. It resolves the
// dragged item's kind and current container from the store's local state and
// rejects illegal targets before anything leaves the client.
type Orchestrator struct {
	store *Store
}

func NewOrchestrator(store *Store) *Orchestrator {
	if store == nil {
		panic("store is not initialized")
	}
	return &Orchestrator{store: store}
}

// Drop validates the gesture against the cached board and starts the
// optimistic move. The returned error covers local validation only; commit
// failures surface through the handle. Cycle detection for task drops needs
// the stored ancestry and stays on the server.
func (o *Orchestrator) Drop(ctx context.Context, g Gesture) (*PendingMove, error) {
	item, ok := o.store.Item(g.ItemID)
	if !ok {
		return nil, fmt.Errorf("item %s: %w", g.ItemID, domain.ErrItemNotFound)
	}
	if !item.Kind.Movable() {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("%s items cannot move", string(item.Kind))}
	}
	if g.ToIndex < 0 {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("negative index %d", g.ToIndex)}
	}
	target, ok := o.store.Item(g.ToContainerID)
	if !ok {
		return nil, fmt.Errorf("container %s: %w", g.ToContainerID, domain.ErrContainerNotFound)
	}
	if target.Archived {
		return nil, fmt.Errorf("container %s: %w", g.ToContainerID, domain.ErrContainerArchived)
	}
	if !target.Kind.CanContain(item.Kind) {
		return nil, &domain.ValidationError{
			Reason: fmt.Sprintf("%s cannot contain %s", string(target.Kind), string(item.Kind)),
		}
	}

	var intent domain.MoveIntent
	switch item.Kind {
	case domain.KindBucket:
		intent = domain.BucketMove(g.ToContainerID, g.ItemID, g.ToIndex)
	case domain.KindProject:
		intent = domain.ProjectMove(g.ItemID, g.ToContainerID, g.ToIndex)
	default:
		intent = domain.TaskMove(g.ItemID, g.ToContainerID, g.ToIndex)
	}
	intent.From = item.ContainerID

	return o.store.Apply(ctx, intent), nil
}

// Resequence validates a full reordering of one container against local
// membership, then applies it optimistically. A known-stale view fails with
// ErrStaleOrder before any network round trip.
func (o *Orchestrator) Resequence(ctx context.Context, containerID string, orderedIDs []string) (*PendingReorder, error) {
	if containerID == "" {
		return nil, &domain.ValidationError{Reason: "missing container id"}
	}
	current := domain.Snapshot{ContainerID: containerID, ItemIDs: o.store.Order(containerID)}
	if _, err := domain.ComputeBulkReorder(current, orderedIDs); err != nil {
		return nil, err
	}
	return o.store.Reorder(ctx, containerID, orderedIDs), nil
}
