package domain

// MoveOutcome is the authoritative result of a committed move: the relocated
// item with its new container and position, plus the dense orderings of every
// container the move touched. An in-place no-op returns the unchanged item
// and no patches.
type MoveOutcome struct {
	Item    Item    `json:"item"`
	Patches []Patch `json:"patches"`
}

// ItemWrite is one row position mutation inside a reorder commit.
type ItemWrite struct {
	ItemID      string
	ContainerID string
	Position    int
	ETag        string
}

// ContainerTouch bumps a container row to its next revision as part of a
// commit, carrying the ETag observed when its children were read. Two
// commits racing on one container collide on this row; the loser retries
// against a fresh snapshot.
type ContainerTouch struct {
	ContainerID string
	ETag        string
	Rev         int64
}

// ItemDelete removes one row as part of a commit.
type ItemDelete struct {
	ItemID string
	ETag   string
}

// ItemMetaUpdate carries a partial title or archived update for one item.
// Position and container never change through this path; those belong to the
// reorder engine.
type ItemMetaUpdate struct {
	ItemID   string
	Title    *string
	Archived *bool
}

// ReorderCommit is the atomic write set for one move, bulk reorder, create
// or delete. Every row belongs to the lab's single storage partition so the
// whole set rides one entity-group transaction.
type ReorderCommit struct {
	LabID     string
	UpdatedAt int64
	Touches   []ContainerTouch
	Writes    []ItemWrite
	Insert    *Item
	Delete    *ItemDelete
}
