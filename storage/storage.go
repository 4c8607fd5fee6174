package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/sajor2000/labmanager-sub002/domain"
)

// Azure table transactions reject batches above this many actions.
const transactionLimit = 100

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to the items table and the activity queue. All
// rows of one lab share a partition, so a whole reorder commit rides a
// single entity-group transaction.
type Storage struct {
	itemTable     *aztables.Client
	activityQueue queueAPI
}

// New creates a Storage instance from the given connection string.
func New(connStr, itemsTable, activityQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	it := svc.NewClient(itemsTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	aq, err := azqueue.NewQueueClientFromConnectionString(connStr, activityQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{itemTable: it, activityQueue: aq}, nil
}

// GetItem retrieves a single item row if present.
func (s *Storage) GetItem(ctx context.Context, labID, itemID string) (*domain.Item, error) {
	ent, err := s.itemTable.GetEntity(ctx, labID, itemID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	it, err := decodeItemEntity(ent.Value)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// ListChildren retrieves the items owned by one container, sorted by
// position ascending with id as tie break.
func (s *Storage) ListChildren(ctx context.Context, labID, containerID string) ([]domain.Item, error) {
	filter := "PartitionKey eq '" + labID + "' and ContainerID eq '" + containerID + "'"
	items, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortItems(items)
	return items, nil
}

// ListLab retrieves every row of a lab partition, the lab root included.
func (s *Storage) ListLab(ctx context.Context, labID string) ([]domain.Item, error) {
	filter := "PartitionKey eq '" + labID + "'"
	items, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortItems(items)
	return items, nil
}

func (s *Storage) list(ctx context.Context, filter string) ([]domain.Item, error) {
	pager := s.itemTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.Item{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			it, err := decodeItemEntity(e)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
	}
	return items, nil
}

func sortItems(items []domain.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
}

// CommitReorder applies one write set atomically: position writes, container
// revision bumps, and an optional insert or delete, every row guarded by the
// ETag observed at read time. A precondition failure on any row fails the
// whole batch and surfaces as domain.ErrConflict.
func (s *Storage) CommitReorder(ctx context.Context, commit domain.ReorderCommit) error {
	actions, err := buildCommitActions(commit)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}
	if _, err := s.itemTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func buildCommitActions(commit domain.ReorderCommit) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(commit.Touches)+len(commit.Writes)+2)
	for _, t := range commit.Touches {
		rev := t.Rev
		ts := commit.UpdatedAt
		tt := edmInt64
		upd := itemUpdate{
			entity:        entity{PartitionKey: commit.LabID, RowKey: t.ContainerID},
			Rev:           &rev,
			RevType:       &tt,
			UpdatedAt:     &ts,
			UpdatedAtType: &tt,
		}
		payload, err := json.Marshal(upd)
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    etagPtr(t.ETag),
		})
	}
	for _, w := range commit.Writes {
		pos := w.Position
		cid := w.ContainerID
		ts := commit.UpdatedAt
		tt := edmInt64
		upd := itemUpdate{
			entity:        entity{PartitionKey: commit.LabID, RowKey: w.ItemID},
			ContainerID:   &cid,
			Position:      &pos,
			UpdatedAt:     &ts,
			UpdatedAtType: &tt,
		}
		payload, err := json.Marshal(upd)
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    etagPtr(w.ETag),
		})
	}
	if commit.Insert != nil {
		payload, err := json.Marshal(newItemEntity(*commit.Insert))
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeAdd,
			Entity:     payload,
		})
	}
	if commit.Delete != nil {
		payload, err := json.Marshal(entity{PartitionKey: commit.LabID, RowKey: commit.Delete.ItemID})
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeDelete,
			Entity:     payload,
			IfMatch:    etagPtr(commit.Delete.ETag),
		})
	}
	if len(actions) > transactionLimit {
		return nil, fmt.Errorf("commit for lab %s spans %d actions, over the %d action transaction limit", commit.LabID, len(actions), transactionLimit)
	}
	return actions, nil
}

// UpdateItemMeta merges a title or archived change into an existing row.
func (s *Storage) UpdateItemMeta(ctx context.Context, labID string, upd domain.ItemMetaUpdate, etag string) error {
	ts := domain.NextTimestamp()
	tt := edmInt64
	ent := itemUpdate{
		entity:        entity{PartitionKey: labID, RowKey: upd.ItemID},
		Title:         upd.Title,
		Archived:      upd.Archived,
		UpdatedAt:     &ts,
		UpdatedAtType: &tt,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	et := etagPtr(etag)
	_, err = s.itemTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return fmt.Errorf("item %s: %w", upd.ItemID, domain.ErrItemNotFound)
		}
		return mapWriteError(err)
	}
	return nil
}

// EnqueueActivity sends one activity record to the activity queue.
func (s *Storage) EnqueueActivity(ctx context.Context, rec domain.ActivityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.activityQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

func etagPtr(s string) *azcore.ETag {
	if s == "" {
		et := azcore.ETagAny
		return &et
	}
	et := azcore.ETag(s)
	return &et
}

func mapWriteError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && (respErr.StatusCode == 409 || respErr.StatusCode == 412) {
		return fmt.Errorf("%s: %w", respErr.ErrorCode, domain.ErrConflict)
	}
	return err
}
