package storage

import (
	"encoding/json"

	"github.com/sajor2000/labmanager-sub002/domain"
)

const edmInt64 = "Edm.Int64"

type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// itemEntity is the full table row for an ordered item. Int64 columns ride
// as strings with an odata type annotation; the service stores everything
// else natively.
type itemEntity struct {
	entity
	ETag          string `json:"odata.etag,omitempty"`
	Kind          string `json:"Kind"`
	ContainerID   string `json:"ContainerID,omitempty"`
	Position      int    `json:"Position"`
	Title         string `json:"Title,omitempty"`
	Archived      bool   `json:"Archived"`
	Rev           int64  `json:"Rev,string"`
	RevType       string `json:"Rev@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// itemUpdate carries a partial row mutation for merge writes.
type itemUpdate struct {
	entity
	ContainerID   *string `json:"ContainerID,omitempty"`
	Position      *int    `json:"Position,omitempty"`
	Title         *string `json:"Title,omitempty"`
	Archived      *bool   `json:"Archived,omitempty"`
	Rev           *int64  `json:"Rev,omitempty,string"`
	RevType       *string `json:"Rev@odata.type,omitempty"`
	UpdatedAt     *int64  `json:"UpdatedAt,omitempty,string"`
	UpdatedAtType *string `json:"UpdatedAt@odata.type,omitempty"`
}

func newItemEntity(it domain.Item) itemEntity {
	return itemEntity{
		entity:        entity{PartitionKey: it.LabID, RowKey: it.ID},
		Kind:          string(it.Kind),
		ContainerID:   it.ContainerID,
		Position:      it.Position,
		Title:         it.Title,
		Archived:      it.Archived,
		Rev:           it.Rev,
		RevType:       edmInt64,
		UpdatedAt:     it.UpdatedAt,
		UpdatedAtType: edmInt64,
	}
}

func decodeItemEntity(data []byte) (domain.Item, error) {
	var ent itemEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Item{}, err
	}
	return domain.Item{
		ID:          ent.RowKey,
		LabID:       ent.PartitionKey,
		Kind:        domain.Kind(ent.Kind),
		ContainerID: ent.ContainerID,
		Position:    ent.Position,
		Title:       ent.Title,
		Archived:    ent.Archived,
		Rev:         ent.Rev,
		UpdatedAt:   ent.UpdatedAt,
		ETag:        ent.ETag,
	}, nil
}
