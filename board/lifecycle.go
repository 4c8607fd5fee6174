package board

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sajor2000/labmanager-sub002/domain"
)

// Draft describes a new item to place on the board. A nil Index appends one
// past the container's current maximum position; an explicit index inserts
// there and densely renumbers the container in the same transaction.
type Draft struct {
	ID          string      `json:"id,omitempty"`
	Kind        domain.Kind `json:"kind"`
	ContainerID string      `json:"containerId"`
	Title       string      `json:"title,omitempty"`
	Index       *int        `json:"index,omitempty"`
}

// CreateLab provisions the root row for a new board. An empty id gets a
// generated one.
func (s *Service) CreateLab(ctx context.Context, labID, title string) (*domain.Item, error) {
	if labID == "" {
		labID = uuid.NewString()
	}
	now := domain.NextTimestamp()
	root := domain.Item{
		ID:        labID,
		LabID:     labID,
		Kind:      domain.KindLab,
		Title:     title,
		UpdatedAt: now,
	}
	commit := domain.ReorderCommit{LabID: labID, UpdatedAt: now, Insert: &root}
	if err := s.st.CommitReorder(ctx, commit); err != nil {
		return nil, err
	}
	return &root, nil
}

// CreateItem places a new item inside a container and returns it with its
// assigned position.
func (s *Service) CreateItem(ctx context.Context, labID string, draft Draft) (*domain.Item, error) {
	var created *domain.Item
	err := s.retryOnce(func() error {
		var err error
		created, err = s.createOnce(ctx, labID, draft)
		return err
	}, log.Fields{"lab": labID, "container": draft.ContainerID})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) createOnce(ctx context.Context, labID string, draft Draft) (*domain.Item, error) {
	if !draft.Kind.Valid() || !draft.Kind.Movable() {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("cannot create an item of kind %q", string(draft.Kind))}
	}
	if draft.ContainerID == "" {
		return nil, &domain.ValidationError{Reason: "missing container id"}
	}
	if draft.Index != nil && *draft.Index < 0 {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("negative index %d", *draft.Index)}
	}

	dest, err := s.st.GetItem(ctx, labID, draft.ContainerID)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, fmt.Errorf("container %s: %w", draft.ContainerID, domain.ErrContainerNotFound)
	}
	if dest.Archived {
		return nil, fmt.Errorf("container %s: %w", dest.ID, domain.ErrContainerArchived)
	}
	if !dest.Kind.CanContain(draft.Kind) {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("a %s cannot contain a %s", dest.Kind, draft.Kind)}
	}

	id := draft.ID
	if id == "" {
		id = uuid.NewString()
	} else if existing, err := s.st.GetItem(ctx, labID, id); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("item %s already exists", id)}
	}

	children, err := s.st.ListChildren(ctx, labID, dest.ID)
	if err != nil {
		return nil, err
	}

	now := domain.NextTimestamp()
	item := domain.Item{
		ID:          id,
		LabID:       labID,
		Kind:        draft.Kind,
		ContainerID: dest.ID,
		Title:       draft.Title,
		UpdatedAt:   now,
	}
	commit := domain.ReorderCommit{
		LabID:     labID,
		UpdatedAt: now,
		Touches:   []domain.ContainerTouch{{ContainerID: dest.ID, ETag: dest.ETag, Rev: dest.Rev + 1}},
		Insert:    &item,
	}

	if draft.Index == nil {
		// Append one past the current maximum; gaps from deletions stay.
		if n := len(children); n > 0 {
			item.Position = children[n-1].Position + 1
		}
	} else {
		at := *draft.Index
		if at > len(children) {
			at = len(children)
		}
		item.Position = at
		for i, c := range children {
			pos := i
			if i >= at {
				pos = i + 1
			}
			if c.Position == pos {
				continue
			}
			commit.Writes = append(commit.Writes, domain.ItemWrite{
				ItemID:      c.ID,
				ContainerID: dest.ID,
				Position:    pos,
				ETag:        c.ETag,
			})
		}
	}

	if err := s.st.CommitReorder(ctx, commit); err != nil {
		return nil, err
	}
	s.notifyLab(labID)
	return &item, nil
}

// DeleteItem removes a childless item. Sibling positions stay untouched;
// the ordering tolerates the gap.
func (s *Service) DeleteItem(ctx context.Context, labID, itemID string) error {
	return s.retryOnce(func() error {
		return s.deleteOnce(ctx, labID, itemID)
	}, log.Fields{"lab": labID, "item": itemID})
}

func (s *Service) deleteOnce(ctx context.Context, labID, itemID string) error {
	item, err := s.st.GetItem(ctx, labID, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrItemNotFound)
	}
	if item.Kind == domain.KindLab {
		return &domain.ValidationError{Reason: "cannot delete the lab root"}
	}
	children, err := s.st.ListChildren(ctx, labID, item.ID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return &domain.ValidationError{Reason: fmt.Sprintf("container %s still has %d children", item.ID, len(children))}
	}
	parent, err := s.st.GetItem(ctx, labID, item.ContainerID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("container %s: %w", item.ContainerID, domain.ErrContainerNotFound)
	}

	commit := domain.ReorderCommit{
		LabID:     labID,
		UpdatedAt: domain.NextTimestamp(),
		Touches:   []domain.ContainerTouch{{ContainerID: parent.ID, ETag: parent.ETag, Rev: parent.Rev + 1}},
		Delete:    &domain.ItemDelete{ItemID: item.ID, ETag: item.ETag},
	}
	if err := s.st.CommitReorder(ctx, commit); err != nil {
		return err
	}
	s.notifyLab(labID)
	return nil
}

// UpdateItem merges a partial title or archived change and returns the
// refreshed item.
func (s *Service) UpdateItem(ctx context.Context, labID, itemID string, upd domain.ItemMetaUpdate) (*domain.Item, error) {
	if upd.Title == nil && upd.Archived == nil {
		return nil, &domain.ValidationError{Reason: "update had no fields"}
	}
	upd.ItemID = itemID
	err := s.retryOnce(func() error {
		item, err := s.st.GetItem(ctx, labID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("item %s: %w", itemID, domain.ErrItemNotFound)
		}
		return s.st.UpdateItemMeta(ctx, labID, upd, item.ETag)
	}, log.Fields{"lab": labID, "item": itemID})
	if err != nil {
		return nil, err
	}
	item, err := s.st.GetItem(ctx, labID, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrItemNotFound)
	}
	s.notifyLab(labID)
	return item, nil
}

func (s *Service) notifyLab(labID string) {
	if s.notify != nil {
		s.notify.NotifyLab(labID)
	}
}
