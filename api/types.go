package api

import (
	"context"

	"github.com/sajor2000/labmanager-sub002/board"
	"github.com/sajor2000/labmanager-sub002/domain"
)

// Board abstracts the commit service for handlers.
type Board interface {
	MoveItem(ctx context.Context, labID string, intent domain.MoveIntent, actor string) (*domain.MoveOutcome, error)
	BulkReorder(ctx context.Context, labID, containerID string, orderedIDs []string, actor string) ([]domain.Placement, error)
	CreateItem(ctx context.Context, labID string, draft board.Draft) (*domain.Item, error)
	DeleteItem(ctx context.Context, labID, itemID string) error
	UpdateItem(ctx context.Context, labID, itemID string, upd domain.ItemMetaUpdate) (*domain.Item, error)
}

// Storage serves board reads for the snapshot and stream endpoints.
type Storage interface {
	ListLab(ctx context.Context, labID string) ([]domain.Item, error)
	GetItem(ctx context.Context, labID, itemID string) (*domain.Item, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents re-execution of duplicate move submissions.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, labID, key string) (bool, error)
	// Remove deletes a previously added key, used when the move fails.
	Remove(ctx context.Context, labID, key string) error
}
