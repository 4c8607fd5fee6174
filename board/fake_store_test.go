package board

import (
	"context"
	"fmt"
	"sort"

	"github.com/sajor2000/labmanager-sub002/domain"
)

// fakeStore mimics the table semantics the real storage rides on: every row
// carries an etag, commits verify every precondition before applying
// anything, and a mismatch fails the whole batch with ErrConflict.
type fakeStore struct {
	items   map[string]domain.Item
	etagSeq int

	commits      []domain.ReorderCommit
	metaUpdates  []domain.ItemMetaUpdate
	failCommits  int
	failMeta     int
	beforeCommit func(f *fakeStore)
}

func newFakeStore(items ...domain.Item) *fakeStore {
	f := &fakeStore{items: make(map[string]domain.Item, len(items))}
	for _, it := range items {
		it.ETag = f.nextETag()
		f.items[it.ID] = it
	}
	return f
}

func (f *fakeStore) nextETag() string {
	f.etagSeq++
	return fmt.Sprintf("W/\"%d\"", f.etagSeq)
}

func (f *fakeStore) GetItem(ctx context.Context, labID, itemID string) (*domain.Item, error) {
	it, ok := f.items[itemID]
	if !ok || it.LabID != labID {
		return nil, nil
	}
	return &it, nil
}

func (f *fakeStore) ListChildren(ctx context.Context, labID, containerID string) ([]domain.Item, error) {
	out := []domain.Item{}
	for _, it := range f.items {
		if it.LabID == labID && it.ContainerID == containerID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) CommitReorder(ctx context.Context, commit domain.ReorderCommit) error {
	if f.beforeCommit != nil {
		hook := f.beforeCommit
		f.beforeCommit = nil
		hook(f)
	}
	f.commits = append(f.commits, commit)
	if f.failCommits > 0 {
		f.failCommits--
		return fmt.Errorf("injected: %w", domain.ErrConflict)
	}

	for _, t := range commit.Touches {
		it, ok := f.items[t.ContainerID]
		if !ok || (t.ETag != "" && it.ETag != t.ETag) {
			return fmt.Errorf("touch %s: %w", t.ContainerID, domain.ErrConflict)
		}
	}
	for _, w := range commit.Writes {
		it, ok := f.items[w.ItemID]
		if !ok || (w.ETag != "" && it.ETag != w.ETag) {
			return fmt.Errorf("write %s: %w", w.ItemID, domain.ErrConflict)
		}
	}
	if commit.Insert != nil {
		if _, exists := f.items[commit.Insert.ID]; exists {
			return fmt.Errorf("insert %s: %w", commit.Insert.ID, domain.ErrConflict)
		}
	}
	if commit.Delete != nil {
		it, ok := f.items[commit.Delete.ItemID]
		if !ok || (commit.Delete.ETag != "" && it.ETag != commit.Delete.ETag) {
			return fmt.Errorf("delete %s: %w", commit.Delete.ItemID, domain.ErrConflict)
		}
	}

	for _, t := range commit.Touches {
		it := f.items[t.ContainerID]
		it.Rev = t.Rev
		it.UpdatedAt = commit.UpdatedAt
		it.ETag = f.nextETag()
		f.items[t.ContainerID] = it
	}
	for _, w := range commit.Writes {
		it := f.items[w.ItemID]
		it.ContainerID = w.ContainerID
		it.Position = w.Position
		it.UpdatedAt = commit.UpdatedAt
		it.ETag = f.nextETag()
		f.items[w.ItemID] = it
	}
	if commit.Insert != nil {
		it := *commit.Insert
		it.ETag = f.nextETag()
		f.items[it.ID] = it
	}
	if commit.Delete != nil {
		delete(f.items, commit.Delete.ItemID)
	}
	return nil
}

func (f *fakeStore) UpdateItemMeta(ctx context.Context, labID string, upd domain.ItemMetaUpdate, etag string) error {
	f.metaUpdates = append(f.metaUpdates, upd)
	if f.failMeta > 0 {
		f.failMeta--
		return fmt.Errorf("injected: %w", domain.ErrConflict)
	}
	it, ok := f.items[upd.ItemID]
	if !ok {
		return fmt.Errorf("item %s: %w", upd.ItemID, domain.ErrItemNotFound)
	}
	if etag != "" && it.ETag != etag {
		return fmt.Errorf("item %s: %w", upd.ItemID, domain.ErrConflict)
	}
	if upd.Title != nil {
		it.Title = *upd.Title
	}
	if upd.Archived != nil {
		it.Archived = *upd.Archived
	}
	it.ETag = f.nextETag()
	f.items[upd.ItemID] = it
	return nil
}

// order returns the container's child ids sorted by stored position.
func (f *fakeStore) order(labID, containerID string) []string {
	items, _ := f.ListChildren(context.Background(), labID, containerID)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

type recordingSink struct {
	recs []domain.ActivityRecord
}

func (r *recordingSink) Submit(rec domain.ActivityRecord) { r.recs = append(r.recs, rec) }

type recordingNotifier struct {
	labs []string
}

func (r *recordingNotifier) NotifyLab(labID string) { r.labs = append(r.labs, labID) }

// seedBoard builds a small board: lab1 with bucket b1 holding projects p1
// and p2, p1 holding tasks t1..t3.
func seedBoard() *fakeStore {
	return newFakeStore(
		domain.Item{ID: "lab1", LabID: "lab1", Kind: domain.KindLab, Title: "Genomics"},
		domain.Item{ID: "b1", LabID: "lab1", Kind: domain.KindBucket, ContainerID: "lab1", Position: 0},
		domain.Item{ID: "p1", LabID: "lab1", Kind: domain.KindProject, ContainerID: "b1", Position: 0},
		domain.Item{ID: "p2", LabID: "lab1", Kind: domain.KindProject, ContainerID: "b1", Position: 1},
		domain.Item{ID: "t1", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 0},
		domain.Item{ID: "t2", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 1},
		domain.Item{ID: "t3", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 2},
	)
}
