package domain

import "fmt"

// Snapshot is the ordered membership of one container at read time.
type Snapshot struct {
	ContainerID string
	ItemIDs     []string
}

// Placement assigns an item its position inside a container.
type Placement struct {
	ItemID   string `json:"itemId"`
	Position int    `json:"position"`
}

// Patch is the fully reindexed dense ordering for one container after a
// mutation. Placements is empty, not absent, when the container lost its
// last item: the empty ordering still gets written so readers observe zero
// children.
type Patch struct {
	ContainerID string      `json:"containerId"`
	Placements  []Placement `json:"placements"`
}

// ComputeReorder derives the dense position assignments produced by applying
// intent to the given container snapshots. source and dest carry the same
// container for an in-container reorder. The computation is pure and
// deterministic: no I/O, identical inputs yield identical patches.
//
// ToIndex clamps to the end of the destination's final order. An intent that
// lands the item on the index it already occupies returns an empty patch set
// so sibling positions are never spuriously rewritten.
func ComputeReorder(source, dest Snapshot, intent MoveIntent) ([]Patch, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if intent.From != "" && intent.From != source.ContainerID {
		return nil, &ValidationError{Reason: fmt.Sprintf("intent source %q does not match snapshot %q", intent.From, source.ContainerID)}
	}
	if intent.To != dest.ContainerID {
		return nil, &ValidationError{Reason: fmt.Sprintf("intent destination %q does not match snapshot %q", intent.To, dest.ContainerID)}
	}

	at := indexOf(source.ItemIDs, intent.ItemID)
	if at < 0 {
		return nil, fmt.Errorf("item %s not in container %s: %w", intent.ItemID, source.ContainerID, ErrItemNotFound)
	}

	remaining := make([]string, 0, len(source.ItemIDs)-1)
	remaining = append(remaining, source.ItemIDs[:at]...)
	remaining = append(remaining, source.ItemIDs[at+1:]...)

	same := source.ContainerID == dest.ContainerID
	target := dest.ItemIDs
	if same {
		target = remaining
	} else if indexOf(dest.ItemIDs, intent.ItemID) >= 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("item %s already present in container %s", intent.ItemID, dest.ContainerID)}
	}

	insert := clampIndex(intent.ToIndex, len(target))
	final := make([]string, 0, len(target)+1)
	final = append(final, target[:insert]...)
	final = append(final, intent.ItemID)
	final = append(final, target[insert:]...)

	if same {
		if equalIDs(final, source.ItemIDs) {
			return nil, nil
		}
		return []Patch{densePatch(source.ContainerID, final)}, nil
	}
	return []Patch{
		densePatch(source.ContainerID, remaining),
		densePatch(dest.ContainerID, final),
	}, nil
}

// ComputeBulkReorder validates that orderedIDs is exactly the current
// membership of the container, then returns the dense patch for the
// submitted order. Any missing, extra or duplicated id means the caller's
// view went stale and must be refetched before retrying.
func ComputeBulkReorder(current Snapshot, orderedIDs []string) (Patch, error) {
	if len(orderedIDs) != len(current.ItemIDs) {
		return Patch{}, fmt.Errorf("submitted %d ids but container %s has %d children: %w",
			len(orderedIDs), current.ContainerID, len(current.ItemIDs), ErrStaleOrder)
	}
	members := make(map[string]struct{}, len(current.ItemIDs))
	for _, id := range current.ItemIDs {
		members[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, dup := seen[id]; dup {
			return Patch{}, fmt.Errorf("duplicate id %s: %w", id, ErrStaleOrder)
		}
		seen[id] = struct{}{}
		if _, ok := members[id]; !ok {
			return Patch{}, fmt.Errorf("id %s is not a child of container %s: %w", id, current.ContainerID, ErrStaleOrder)
		}
	}
	return densePatch(current.ContainerID, orderedIDs), nil
}

func densePatch(containerID string, ordered []string) Patch {
	placements := make([]Placement, len(ordered))
	for i, id := range ordered {
		placements[i] = Placement{ItemID: id, Position: i}
	}
	return Patch{ContainerID: containerID, Placements: placements}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func clampIndex(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
