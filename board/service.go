package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sajor2000/labmanager-sub002/domain"
)

// Cycle checks walk at most this many ancestors before declaring the stored
// hierarchy corrupt.
const maxAncestryDepth = 32

// Storage is the persistence surface the commit service drives. Reads here
// are authoritative: the snapshots and ETag preconditions of a commit never
// come from a cache.
type Storage interface {
	GetItem(ctx context.Context, labID, itemID string) (*domain.Item, error)
	ListChildren(ctx context.Context, labID, containerID string) ([]domain.Item, error)
	CommitReorder(ctx context.Context, commit domain.ReorderCommit) error
	UpdateItemMeta(ctx context.Context, labID string, upd domain.ItemMetaUpdate, etag string) error
}

// ActivitySink receives fire-and-forget activity records after successful
// commits. Submissions must not block the commit path.
type ActivitySink interface {
	Submit(rec domain.ActivityRecord)
}

// Notifier pings dependent views after a successful commit so they refetch
// the board.
type Notifier interface {
	NotifyLab(labID string)
}

// Service validates move and reorder requests, runs the reorder engine over
// fresh snapshots and persists the result atomically. A commit that loses a
// write race is retried once against fresh snapshots with every validation
// repeated, the cycle check included; a second loss surfaces as ErrConflict.
type Service struct {
	st       Storage
	activity ActivitySink
	notify   Notifier
}

// New creates a Service. activity and notify may be nil.
func New(st Storage, activity ActivitySink, notify Notifier) *Service {
	if st == nil {
		panic("board.New: storage is nil")
	}
	return &Service{st: st, activity: activity, notify: notify}
}

// MoveBucket reorders a bucket on the lab board.
func (s *Service) MoveBucket(ctx context.Context, labID, bucketID string, newIndex int) (*domain.MoveOutcome, error) {
	return s.MoveItem(ctx, labID, domain.BucketMove(labID, bucketID, newIndex), "")
}

// MoveProject moves a project into a bucket at the given index.
func (s *Service) MoveProject(ctx context.Context, labID, projectID, toBucketID string, newIndex int) (*domain.MoveOutcome, error) {
	return s.MoveItem(ctx, labID, domain.ProjectMove(projectID, toBucketID, newIndex), "")
}

// MoveTask moves a task under a project or under another task.
func (s *Service) MoveTask(ctx context.Context, labID, taskID, toContainerID string, newIndex int) (*domain.MoveOutcome, error) {
	return s.MoveItem(ctx, labID, domain.TaskMove(taskID, toContainerID, newIndex), "")
}

// MoveItem relocates one item per the intent and returns the updated item
// plus the renumbered orderings of every touched container. An intent that
// lands the item where it already sits returns the unchanged item, writes
// nothing and emits no notifications.
func (s *Service) MoveItem(ctx context.Context, labID string, intent domain.MoveIntent, actor string) (*domain.MoveOutcome, error) {
	var out *domain.MoveOutcome
	err := s.retryOnce(func() error {
		var err error
		out, err = s.moveOnce(ctx, labID, intent, actor)
		return err
	}, log.Fields{"lab": labID, "item": intent.ItemID})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkReorder replaces the full ordering of one container. The submitted ids
// must exactly match current membership; any mismatch surfaces ErrStaleOrder
// and the caller has to refetch before trying again.
func (s *Service) BulkReorder(ctx context.Context, labID, containerID string, orderedIDs []string, actor string) ([]domain.Placement, error) {
	var placements []domain.Placement
	err := s.retryOnce(func() error {
		var err error
		placements, err = s.bulkOnce(ctx, labID, containerID, orderedIDs, actor)
		return err
	}, log.Fields{"lab": labID, "container": containerID})
	if err != nil {
		return nil, err
	}
	return placements, nil
}

// retryOnce runs commit and repeats it one time when it lost a concurrent
// write race. Structural failures pass through untouched.
func (s *Service) retryOnce(commit func() error, fields log.Fields) error {
	err := commit()
	if err == nil || !errors.Is(err, domain.ErrConflict) {
		return err
	}
	log.WithFields(fields).Warn("commit lost a write race, retrying against a fresh snapshot")
	if err = commit(); errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("two concurrent writers kept the container changing: %w", domain.ErrConflict)
	}
	return err
}

func (s *Service) moveOnce(ctx context.Context, labID string, intent domain.MoveIntent, actor string) (*domain.MoveOutcome, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	item, err := s.st.GetItem(ctx, labID, intent.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", intent.ItemID, domain.ErrItemNotFound)
	}
	if item.Kind != intent.Kind {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("item %s is a %s, not a %s", item.ID, item.Kind, intent.Kind)}
	}

	dest, err := s.st.GetItem(ctx, labID, intent.To)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, fmt.Errorf("container %s: %w", intent.To, domain.ErrContainerNotFound)
	}
	if dest.Archived {
		return nil, fmt.Errorf("container %s: %w", dest.ID, domain.ErrContainerArchived)
	}
	if !dest.Kind.CanContain(intent.Kind) {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("a %s cannot contain a %s", dest.Kind, intent.Kind)}
	}
	if intent.Kind == domain.KindTask && dest.Kind == domain.KindTask {
		if err := s.ensureNoCycle(ctx, labID, item.ID, dest); err != nil {
			return nil, err
		}
	}

	// The stored row decides the source container; the caller's view of it
	// is advisory only.
	source := item.ContainerID
	srcItems, err := s.st.ListChildren(ctx, labID, source)
	if err != nil {
		return nil, err
	}
	same := source == dest.ID
	dstItems := srcItems
	if !same {
		dstItems, err = s.st.ListChildren(ctx, labID, dest.ID)
		if err != nil {
			return nil, err
		}
	}

	intent.From = source
	patches, err := domain.ComputeReorder(snapshotOf(source, srcItems), snapshotOf(dest.ID, dstItems), intent)
	if err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		return &domain.MoveOutcome{Item: *item}, nil
	}

	srcRow := dest
	if !same {
		srcRow, err = s.st.GetItem(ctx, labID, source)
		if err != nil {
			return nil, err
		}
		if srcRow == nil {
			return nil, fmt.Errorf("source container %s: %w", source, domain.ErrContainerNotFound)
		}
	}
	containers := map[string]*domain.Item{srcRow.ID: srcRow, dest.ID: dest}

	now := domain.NextTimestamp()
	commit := domain.ReorderCommit{LabID: labID, UpdatedAt: now}
	current := make(map[string]domain.Item, len(srcItems)+len(dstItems))
	for _, it := range srcItems {
		current[it.ID] = it
	}
	for _, it := range dstItems {
		current[it.ID] = it
	}
	for _, p := range patches {
		row := containers[p.ContainerID]
		commit.Touches = append(commit.Touches, domain.ContainerTouch{ContainerID: row.ID, ETag: row.ETag, Rev: row.Rev + 1})
		for _, pl := range p.Placements {
			cur, ok := current[pl.ItemID]
			if !ok {
				return nil, fmt.Errorf("patch references %s outside both snapshots", pl.ItemID)
			}
			if cur.ContainerID == p.ContainerID && cur.Position == pl.Position {
				continue
			}
			commit.Writes = append(commit.Writes, domain.ItemWrite{
				ItemID:      pl.ItemID,
				ContainerID: p.ContainerID,
				Position:    pl.Position,
				ETag:        cur.ETag,
			})
		}
	}
	if err := s.st.CommitReorder(ctx, commit); err != nil {
		return nil, err
	}

	moved := *item
	moved.ContainerID = dest.ID
	moved.UpdatedAt = now
	moved.ETag = ""
	for _, p := range patches {
		if p.ContainerID != dest.ID {
			continue
		}
		for _, pl := range p.Placements {
			if pl.ItemID == moved.ID {
				moved.Position = pl.Position
			}
		}
	}

	s.afterCommit(labID, domain.ActivityRecord{
		ID:          uuid.NewString(),
		Type:        domain.ActivityMove,
		LabID:       labID,
		Actor:       actor,
		MovedItemID: item.ID,
		FromID:      source,
		ToID:        dest.ID,
		Timestamp:   now,
	})
	return &domain.MoveOutcome{Item: moved, Patches: patches}, nil
}

func (s *Service) bulkOnce(ctx context.Context, labID, containerID string, orderedIDs []string, actor string) ([]domain.Placement, error) {
	if containerID == "" {
		return nil, &domain.ValidationError{Reason: "missing container id"}
	}
	row, err := s.st.GetItem(ctx, labID, containerID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("container %s: %w", containerID, domain.ErrContainerNotFound)
	}

	children, err := s.st.ListChildren(ctx, labID, containerID)
	if err != nil {
		return nil, err
	}
	patch, err := domain.ComputeBulkReorder(snapshotOf(containerID, children), orderedIDs)
	if err != nil {
		return nil, err
	}

	now := domain.NextTimestamp()
	commit := domain.ReorderCommit{
		LabID:     labID,
		UpdatedAt: now,
		Touches:   []domain.ContainerTouch{{ContainerID: row.ID, ETag: row.ETag, Rev: row.Rev + 1}},
	}
	current := make(map[string]domain.Item, len(children))
	for _, it := range children {
		current[it.ID] = it
	}
	for _, pl := range patch.Placements {
		cur := current[pl.ItemID]
		if cur.Position == pl.Position {
			continue
		}
		commit.Writes = append(commit.Writes, domain.ItemWrite{
			ItemID:      pl.ItemID,
			ContainerID: containerID,
			Position:    pl.Position,
			ETag:        cur.ETag,
		})
	}
	if err := s.st.CommitReorder(ctx, commit); err != nil {
		return nil, err
	}

	s.afterCommit(labID, domain.ActivityRecord{
		ID:        uuid.NewString(),
		Type:      domain.ActivityReorder,
		LabID:     labID,
		Actor:     actor,
		FromID:    containerID,
		ToID:      containerID,
		Timestamp: now,
	})
	return patch.Placements, nil
}

// ensureNoCycle walks the destination's ancestor chain and rejects the move
// when the moved task shows up on it. Reaching a project ends the walk;
// only task-to-task links can loop.
func (s *Service) ensureNoCycle(ctx context.Context, labID, movedID string, dest *domain.Item) error {
	cur := dest
	for depth := 0; cur != nil; depth++ {
		if depth > maxAncestryDepth {
			return fmt.Errorf("ancestry of container %s exceeds depth %d", dest.ID, maxAncestryDepth)
		}
		if cur.ID == movedID {
			return fmt.Errorf("moving task %s under %s creates a cycle: %w", movedID, dest.ID, domain.ErrCyclicMove)
		}
		if cur.Kind != domain.KindTask {
			return nil
		}
		parent, err := s.st.GetItem(ctx, labID, cur.ContainerID)
		if err != nil {
			return err
		}
		cur = parent
	}
	return nil
}

func (s *Service) afterCommit(labID string, rec domain.ActivityRecord) {
	if s.activity != nil {
		s.activity.Submit(rec)
	}
	s.notifyLab(labID)
}

func snapshotOf(containerID string, items []domain.Item) domain.Snapshot {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return domain.Snapshot{ContainerID: containerID, ItemIDs: ids}
}
