package domain

// Kind identifies the hierarchy level of an item.
type Kind string

const (
	KindLab     Kind = "lab"
	KindBucket  Kind = "bucket"
	KindProject Kind = "project"
	KindTask    Kind = "task"
)

// Valid reports whether k names a known hierarchy level.
func (k Kind) Valid() bool {
	switch k {
	case KindLab, KindBucket, KindProject, KindTask:
		return true
	}
	return false
}

// Movable reports whether items of this kind can be relocated. The lab root
// anchors the board and never moves.
func (k Kind) Movable() bool {
	return k == KindBucket || k == KindProject || k == KindTask
}

// CanContain reports whether a container of kind k may own children of kind
// child. Labs own buckets, buckets own projects, projects own tasks, and
// tasks own subtasks.
func (k Kind) CanContain(child Kind) bool {
	switch child {
	case KindBucket:
		return k == KindLab
	case KindProject:
		return k == KindBucket
	case KindTask:
		return k == KindProject || k == KindTask
	}
	return false
}

// Item represents a single ordered item on a lab board. Position is unique
// within ContainerID after any successful commit; ascending position is the
// list order the user sees. The lab root is stored as an item of KindLab with
// an empty ContainerID.
type Item struct {
	ID          string `json:"id"`
	LabID       string `json:"labId"`
	Kind        Kind   `json:"kind"`
	ContainerID string `json:"containerId,omitempty"`
	Position    int    `json:"position"`
	Title       string `json:"title,omitempty"`
	Archived    bool   `json:"archived,omitempty"`
	Rev         int64  `json:"rev,omitempty"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`

	// ETag is the storage row version observed at read time. Never sent to
	// clients; commits use it as a write precondition.
	ETag string `json:"-"`
}
