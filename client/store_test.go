package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sajor2000/labmanager-sub002/domain"
)

type fakeCommitter struct {
	mu       sync.Mutex
	moves    []domain.MoveIntent
	reorders [][]string

	started chan string
	block   chan struct{}

	moveFn    func(intent domain.MoveIntent) (*domain.MoveOutcome, error)
	reorderFn func(containerID string, orderedIDs []string) ([]domain.Placement, error)
}

func (f *fakeCommitter) MoveItem(ctx context.Context, labID string, intent domain.MoveIntent) (*domain.MoveOutcome, error) {
	f.mu.Lock()
	f.moves = append(f.moves, intent)
	started, block, fn := f.started, f.block, f.moveFn
	f.mu.Unlock()

	if started != nil {
		started <- intent.ItemID
	}
	if block != nil {
		<-block
	}
	if fn != nil {
		return fn(intent)
	}
	return &domain.MoveOutcome{
		Item: domain.Item{ID: intent.ItemID, LabID: labID, Kind: intent.Kind, ContainerID: intent.To, Position: intent.ToIndex},
	}, nil
}

func (f *fakeCommitter) BulkReorder(ctx context.Context, labID, containerID string, orderedIDs []string) ([]domain.Placement, error) {
	f.mu.Lock()
	f.reorders = append(f.reorders, append([]string{containerID}, orderedIDs...))
	fn := f.reorderFn
	f.mu.Unlock()

	if fn != nil {
		return fn(containerID, orderedIDs)
	}
	placements := make([]domain.Placement, len(orderedIDs))
	for i, id := range orderedIDs {
		placements[i] = domain.Placement{ItemID: id, Position: i}
	}
	return placements, nil
}

func (f *fakeCommitter) recordedMoves() []domain.MoveIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MoveIntent, len(f.moves))
	copy(out, f.moves)
	return out
}

func (f *fakeCommitter) recordedReorders() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.reorders))
	copy(out, f.reorders)
	return out
}

func seedItems() []domain.Item {
	return []domain.Item{
		{ID: "lab1", LabID: "lab1", Kind: domain.KindLab},
		{ID: "b1", LabID: "lab1", Kind: domain.KindBucket, ContainerID: "lab1", Position: 0},
		{ID: "b2", LabID: "lab1", Kind: domain.KindBucket, ContainerID: "lab1", Position: 1},
		{ID: "p1", LabID: "lab1", Kind: domain.KindProject, ContainerID: "b1", Position: 0},
		{ID: "p2", LabID: "lab1", Kind: domain.KindProject, ContainerID: "b1", Position: 1},
		{ID: "t1", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 0},
		{ID: "t2", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 1},
		{ID: "t3", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 2},
	}
}

func newSeededStore(fake *fakeCommitter, items ...domain.Item) *Store {
	logger, _ := logrustest.NewNullLogger()
	s := NewStore("lab1", fake, logger)
	if items == nil {
		items = seedItems()
	}
	s.Seed(items)
	return s
}

func waitForState(t *testing.T, state func() MoveState, want MoveState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if state() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for state %v, got %v", want, state())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func assertOrder(t *testing.T, s *Store, containerID string, want []string) {
	t.Helper()
	got := s.Order(containerID)
	if len(got) != len(want) {
		t.Fatalf("container %s order %#v, want %#v", containerID, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("container %s order %#v, want %#v", containerID, got, want)
		}
	}
}

func TestMoveAppliesLocallyWhileRequestInFlight(t *testing.T) {
	block := make(chan struct{})
	fake := &fakeCommitter{block: block}
	store := newSeededStore(fake)

	p := store.Apply(context.Background(), domain.TaskMove("t3", "p1", 0))
	waitForState(t, p.State, StateApplying)

	assertOrder(t, store, "p1", []string{"t3", "t1", "t2"})

	close(block)
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if p.State() != StateCommitted {
		t.Fatalf("expected committed, got %v", p.State())
	}
	if p.Outcome() == nil {
		t.Fatalf("expected an outcome after commit")
	}

	moves := fake.recordedMoves()
	if len(moves) != 1 {
		t.Fatalf("expected 1 commit call, got %d", len(moves))
	}
	if moves[0].From != "p1" {
		t.Fatalf("expected source filled from local state, got %q", moves[0].From)
	}
}

func TestMoveRollbackRestoresSnapshotVerbatim(t *testing.T) {
	fake := &fakeCommitter{moveFn: func(intent domain.MoveIntent) (*domain.MoveOutcome, error) {
		return nil, fmt.Errorf("commit failed: %w", domain.ErrConflict)
	}}
	store := newSeededStore(fake,
		domain.Item{ID: "lab1", LabID: "lab1", Kind: domain.KindLab},
		domain.Item{ID: "b1", LabID: "lab1", Kind: domain.KindBucket, ContainerID: "lab1", Position: 0},
		domain.Item{ID: "p1", LabID: "lab1", Kind: domain.KindProject, ContainerID: "b1", Position: 0},
		domain.Item{ID: "p2", LabID: "lab1", Kind: domain.KindProject, ContainerID: "b1", Position: 1},
		domain.Item{ID: "t1", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 0},
		domain.Item{ID: "t2", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 2},
		domain.Item{ID: "t3", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 5},
	)

	p := store.Apply(context.Background(), domain.TaskMove("t3", "p2", 0))
	err := p.Wait(context.Background())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if p.State() != StateRolledBack {
		t.Fatalf("expected rolled back, got %v", p.State())
	}

	assertOrder(t, store, "p1", []string{"t1", "t2", "t3"})
	assertOrder(t, store, "p2", nil)
	wantPositions := map[string]int{"t1": 0, "t2": 2, "t3": 5}
	for id, pos := range wantPositions {
		item, ok := store.Item(id)
		if !ok {
			t.Fatalf("item %s missing after rollback", id)
		}
		if item.Position != pos || item.ContainerID != "p1" {
			t.Fatalf("item %s not restored verbatim: %#v", id, item)
		}
	}
}

func TestMoveReconcilesToServerPlacements(t *testing.T) {
	fake := &fakeCommitter{moveFn: func(intent domain.MoveIntent) (*domain.MoveOutcome, error) {
		// The server's conflict retry recomputed against a newer snapshot,
		// landing siblings in a different arrangement than the local guess.
		return &domain.MoveOutcome{
			Item: domain.Item{ID: "t2", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p2", Position: 0, Rev: 3},
			Patches: []domain.Patch{
				{ContainerID: "p1", Placements: []domain.Placement{{ItemID: "t3", Position: 0}, {ItemID: "t1", Position: 1}}},
				{ContainerID: "p2", Placements: []domain.Placement{{ItemID: "t2", Position: 0}}},
			},
		}, nil
	}}
	store := newSeededStore(fake)

	p := store.Apply(context.Background(), domain.TaskMove("t2", "p2", 0))
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	assertOrder(t, store, "p1", []string{"t3", "t1"})
	assertOrder(t, store, "p2", []string{"t2"})
	t2, _ := store.Item("t2")
	if t2.ContainerID != "p2" || t2.Position != 0 || t2.Rev != 3 {
		t.Fatalf("moved item not reconciled: %#v", t2)
	}
	t3, _ := store.Item("t3")
	if t3.Position != 0 {
		t.Fatalf("sibling position not overwritten by server placement: %#v", t3)
	}
}

func TestMovesSerializePerItem(t *testing.T) {
	block := make(chan struct{})
	started := make(chan string, 8)
	fake := &fakeCommitter{block: block, started: started}
	store := newSeededStore(fake,
		domain.Item{ID: "lab1", LabID: "lab1", Kind: domain.KindLab},
		domain.Item{ID: "b1", LabID: "lab1", Kind: domain.KindBucket, ContainerID: "lab1", Position: 0},
		domain.Item{ID: "p1", LabID: "lab1", Kind: domain.KindProject, ContainerID: "b1", Position: 0},
		domain.Item{ID: "p2", LabID: "lab1", Kind: domain.KindProject, ContainerID: "b1", Position: 1},
		domain.Item{ID: "t1", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 0},
		domain.Item{ID: "t2", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 1},
		domain.Item{ID: "t3", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p1", Position: 2},
		domain.Item{ID: "t4", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p2", Position: 0},
		domain.Item{ID: "t5", LabID: "lab1", Kind: domain.KindTask, ContainerID: "p2", Position: 1},
	)

	first := store.Apply(context.Background(), domain.TaskMove("t1", "p1", 2))
	if got := <-started; got != "t1" {
		t.Fatalf("expected first move to start, got %q", got)
	}

	second := store.Apply(context.Background(), domain.TaskMove("t1", "p1", 0))
	unrelated := store.Apply(context.Background(), domain.TaskMove("t4", "p2", 1))

	// The unrelated item's move goes out while the first is still in
	// flight; the second move of the same item must not.
	if got := <-started; got != "t4" {
		t.Fatalf("expected unrelated move to start, got %q", got)
	}
	time.Sleep(30 * time.Millisecond)
	if second.State() != StateIdle {
		t.Fatalf("queued move left idle state early: %v", second.State())
	}
	select {
	case got := <-started:
		t.Fatalf("unexpected commit call for %q while first move pending", got)
	default:
	}

	close(block)
	for _, p := range []*PendingMove{first, unrelated, second} {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("move failed: %v", err)
		}
	}

	if got := <-started; got != "t1" {
		t.Fatalf("expected queued move to start after first resolved, got %q", got)
	}
	assertOrder(t, store, "p1", []string{"t1", "t2", "t3"})
	assertOrder(t, store, "p2", []string{"t5", "t4"})
}

func TestApplyUnknownItemRollsBackWithoutCommit(t *testing.T) {
	fake := &fakeCommitter{}
	store := newSeededStore(fake)

	p := store.Apply(context.Background(), domain.TaskMove("ghost", "p1", 0))
	err := p.Wait(context.Background())
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
	if p.State() != StateRolledBack {
		t.Fatalf("expected rolled back, got %v", p.State())
	}
	if len(fake.recordedMoves()) != 0 {
		t.Fatalf("unexpected commit call: %#v", fake.recordedMoves())
	}
	assertOrder(t, store, "p1", []string{"t1", "t2", "t3"})
}

func TestReorderRoundTrip(t *testing.T) {
	fake := &fakeCommitter{}
	store := newSeededStore(fake)

	p := store.Reorder(context.Background(), "p1", []string{"t3", "t1", "t2"})
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("reorder failed: %v", err)
	}
	if p.State() != StateCommitted {
		t.Fatalf("expected committed, got %v", p.State())
	}
	if len(p.Placements()) != 3 {
		t.Fatalf("expected placements, got %#v", p.Placements())
	}

	assertOrder(t, store, "p1", []string{"t3", "t1", "t2"})
	for i, id := range []string{"t3", "t1", "t2"} {
		item, _ := store.Item(id)
		if item.Position != i {
			t.Fatalf("item %s position %d, want %d", id, item.Position, i)
		}
	}
}

func TestReorderRollsBackOnServerRejection(t *testing.T) {
	fake := &fakeCommitter{reorderFn: func(containerID string, orderedIDs []string) ([]domain.Placement, error) {
		return nil, fmt.Errorf("container changed: %w", domain.ErrStaleOrder)
	}}
	store := newSeededStore(fake)

	p := store.Reorder(context.Background(), "p1", []string{"t3", "t1", "t2"})
	err := p.Wait(context.Background())
	if !errors.Is(err, domain.ErrStaleOrder) {
		t.Fatalf("expected stale order, got %v", err)
	}
	if p.State() != StateRolledBack {
		t.Fatalf("expected rolled back, got %v", p.State())
	}
	assertOrder(t, store, "p1", []string{"t1", "t2", "t3"})
	for i, id := range []string{"t1", "t2", "t3"} {
		item, _ := store.Item(id)
		if item.Position != i {
			t.Fatalf("item %s position %d, want %d", id, item.Position, i)
		}
	}
}

func TestReorderRejectsStaleMembershipLocally(t *testing.T) {
	fake := &fakeCommitter{}
	store := newSeededStore(fake)

	p := store.Reorder(context.Background(), "p1", []string{"t1", "t2"})
	err := p.Wait(context.Background())
	if !errors.Is(err, domain.ErrStaleOrder) {
		t.Fatalf("expected stale order, got %v", err)
	}
	if len(fake.recordedReorders()) != 0 {
		t.Fatalf("stale order must not reach the network: %#v", fake.recordedReorders())
	}
	assertOrder(t, store, "p1", []string{"t1", "t2", "t3"})
}
