package domain

// Activity record types.
const (
	ActivityMove    = "move"
	ActivityReorder = "reorder"
)

// ActivityRecord describes one committed mutation for the activity log.
// Delivery is fire and forget; the commit path never waits on it. Reorder
// records carry the container in both FromID and ToID with no moved item.
type ActivityRecord struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	LabID       string `json:"labId"`
	Actor       string `json:"actor,omitempty"`
	MovedItemID string `json:"movedItemId,omitempty"`
	FromID      string `json:"fromContainerId"`
	ToID        string `json:"toContainerId"`
	Timestamp   int64  `json:"timestamp"`
}
