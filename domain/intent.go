package domain

import "fmt"

// MoveIntent describes a request to relocate one item to a container at a
// specific index. Kind tags the variant (bucket, project or task move) so
// validation and the cyclic-move check can switch exhaustively instead of
// guessing from ids. ToIndex is the zero-based insertion index in the
// destination's final order.
//
// From is advisory: clients fill it from their local view, but the commit
// path always derives the real source container from the stored row.
type MoveIntent struct {
	Kind    Kind   `json:"kind"`
	ItemID  string `json:"itemId"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	ToIndex int    `json:"index"`
}

// BucketMove builds the intent for reordering a bucket on the lab board.
func BucketMove(labID, bucketID string, newIndex int) MoveIntent {
	return MoveIntent{Kind: KindBucket, ItemID: bucketID, To: labID, ToIndex: newIndex}
}

// ProjectMove builds the intent for moving a project into a bucket.
func ProjectMove(projectID, toBucketID string, newIndex int) MoveIntent {
	return MoveIntent{Kind: KindProject, ItemID: projectID, To: toBucketID, ToIndex: newIndex}
}

// TaskMove builds the intent for moving a task under a project or under
// another task as a subtask.
func TaskMove(taskID, toContainerID string, newIndex int) MoveIntent {
	return MoveIntent{Kind: KindTask, ItemID: taskID, To: toContainerID, ToIndex: newIndex}
}

// Validate checks the intent shape. Existence, archival and cycle checks need
// storage reads and happen at commit time.
func (m MoveIntent) Validate() error {
	switch m.Kind {
	case KindBucket, KindProject, KindTask:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown item kind %q", string(m.Kind))}
	}
	if m.ItemID == "" {
		return &ValidationError{Reason: "missing item id"}
	}
	if m.To == "" {
		return &ValidationError{Reason: "missing destination container"}
	}
	if m.ToIndex < 0 {
		return &ValidationError{Reason: fmt.Sprintf("negative index %d", m.ToIndex)}
	}
	return nil
}
