package client

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sajor2000/labmanager-sub002/domain"
)

// Committer executes moves and bulk reorders against the commit service.
type Committer interface {
	MoveItem(ctx context.Context, labID string, intent domain.MoveIntent) (*domain.MoveOutcome, error)
	BulkReorder(ctx context.Context, labID, containerID string, orderedIDs []string) ([]domain.Placement, error)
}

// MoveState tracks one pending operation through its lifecycle.
type MoveState int

const (
	StateIdle MoveState = iota
	StateApplying
	StateCommitted
	StateRolledBack
)

func (s MoveState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApplying:
		return "applying"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolledback"
	}
	return "unknown"
}

type pending struct {
	mu    sync.Mutex
	state MoveState
	err   error
	done  chan struct{}
}

func newPending() pending { return pending{done: make(chan struct{})} }

func (p *pending) transition(s MoveState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *pending) fail(err error) {
	p.mu.Lock()
	p.state = StateRolledBack
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// State reports the current lifecycle state.
func (p *pending) State() MoveState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the terminal error. Meaningful once Done is closed.
func (p *pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed when the operation commits or rolls back.
func (p *pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the operation resolves or ctx expires.
func (p *pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingMove is the handle for one optimistic move.
type PendingMove struct {
	pending
	outcome *domain.MoveOutcome
}

// Outcome returns the server's move result. Nil until committed.
func (p *PendingMove) Outcome() *domain.MoveOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

func (p *PendingMove) complete(out *domain.MoveOutcome) {
	p.mu.Lock()
	p.state = StateCommitted
	p.outcome = out
	p.mu.Unlock()
	close(p.done)
}

// PendingReorder is the handle for one optimistic bulk reorder.
type PendingReorder struct {
	pending
	placements []domain.Placement
}

// Placements returns the committed placements. Nil until committed.
func (p *PendingReorder) Placements() []domain.Placement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placements
}

func (p *PendingReorder) complete(placements []domain.Placement) {
	p.mu.Lock()
	p.state = StateCommitted
	p.placements = placements
	p.mu.Unlock()
	close(p.done)
}

// Store is the client-side cache of one lab's board. A move mutates the
// local ordering immediately so views redraw without waiting on the network,
// then commits in the background: on success local state reconciles to the
// server's placements, on failure the pre-move snapshot is restored verbatim
// and the typed error surfaces through the handle.
//
// Moves serialize per item: a second move of an item whose previous move is
// still in flight queues behind it. Moves of unrelated items proceed
// concurrently. The server's copy of the ordering is authoritative; this
// store is a cache reconciled to it.
type Store struct {
	labID     string
	committer Committer
	logger    *log.Logger

	mu    sync.Mutex
	items map[string]domain.Item
	order map[string][]string

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// snapshot captures the exact pre-move state of the touched containers.
type snapshot struct {
	orders map[string][]string
	items  map[string]domain.Item
}

// NewStore creates an empty store for one lab. Seed it before applying moves.
func NewStore(labID string, committer Committer, logger *log.Logger) *Store {
	if committer == nil {
		panic("committer is not initialized")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		labID:     labID,
		committer: committer,
		logger:    logger,
		items:     make(map[string]domain.Item),
		order:     make(map[string][]string),
		locks:     make(map[string]chan struct{}),
	}
}

// Seed replaces the cache with a fresh server snapshot of the lab's rows.
func (s *Store) Seed(items []domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]domain.Item, len(items))
	s.order = make(map[string][]string)
	for _, it := range items {
		s.items[it.ID] = it
		if it.ContainerID != "" {
			s.order[it.ContainerID] = append(s.order[it.ContainerID], it.ID)
		}
	}
	for cid, ids := range s.order {
		sort.SliceStable(ids, func(i, j int) bool {
			a, b := s.items[ids[i]], s.items[ids[j]]
			if a.Position != b.Position {
				return a.Position < b.Position
			}
			return a.ID < b.ID
		})
		s.order[cid] = ids
	}
}

// Order returns the current local ordering of a container.
func (s *Store) Order(containerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order[containerID]...)
}

// Item returns a copy of the cached item.
func (s *Store) Item(id string) (domain.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

// Apply runs one move optimistically. The returned handle resolves once the
// commit succeeds or the local state has been rolled back.
func (s *Store) Apply(ctx context.Context, intent domain.MoveIntent) *PendingMove {
	p := &PendingMove{pending: newPending()}
	go s.runMove(ctx, p, intent)
	return p
}

// Reorder optimistically applies a full resequencing of one container.
// Reorders serialize on the container id the same way moves serialize on the
// item id.
func (s *Store) Reorder(ctx context.Context, containerID string, orderedIDs []string) *PendingReorder {
	p := &PendingReorder{pending: newPending()}
	go s.runReorder(ctx, p, containerID, append([]string(nil), orderedIDs...))
	return p
}

func (s *Store) runMove(ctx context.Context, p *PendingMove, intent domain.MoveIntent) {
	slot := s.acquire(intent.ItemID)
	defer release(slot)

	snap, err := s.applyMoveLocally(&intent)
	if err != nil {
		p.fail(err)
		return
	}
	p.transition(StateApplying)

	out, err := s.committer.MoveItem(ctx, s.labID, intent)
	if err != nil {
		s.restore(snap)
		s.logger.WithFields(log.Fields{"lab": s.labID, "item": intent.ItemID}).
			Warnf("move rejected, local state restored: %v", err)
		p.fail(err)
		return
	}
	s.reconcileMove(out)
	p.complete(out)
}

func (s *Store) runReorder(ctx context.Context, p *PendingReorder, containerID string, orderedIDs []string) {
	slot := s.acquire(containerID)
	defer release(slot)

	snap, err := s.applyReorderLocally(containerID, orderedIDs)
	if err != nil {
		p.fail(err)
		return
	}
	p.transition(StateApplying)

	placements, err := s.committer.BulkReorder(ctx, s.labID, containerID, orderedIDs)
	if err != nil {
		s.restore(snap)
		s.logger.WithFields(log.Fields{"lab": s.labID, "container": containerID}).
			Warnf("reorder rejected, local state restored: %v", err)
		p.fail(err)
		return
	}
	s.reconcileReorder(containerID, placements)
	p.complete(placements)
}

func (s *Store) applyMoveLocally(intent *domain.MoveIntent) (snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[intent.ItemID]
	if !ok {
		return snapshot{}, fmt.Errorf("item %s: %w", intent.ItemID, domain.ErrItemNotFound)
	}
	source := item.ContainerID
	if intent.From == "" {
		intent.From = source
	}
	dest := intent.To

	snap := s.capture(source, dest)

	src := s.order[source]
	at := indexOf(src, intent.ItemID)
	if at < 0 {
		return snapshot{}, fmt.Errorf("item %s not in container %s: %w", intent.ItemID, source, domain.ErrItemNotFound)
	}
	remaining := make([]string, 0, len(src)-1)
	remaining = append(remaining, src[:at]...)
	remaining = append(remaining, src[at+1:]...)

	final := remaining
	if source != dest {
		s.order[source] = remaining
		s.renumber(source)
		final = append([]string(nil), s.order[dest]...)
	}
	insert := intent.ToIndex
	if insert > len(final) {
		insert = len(final)
	}
	with := make([]string, 0, len(final)+1)
	with = append(with, final[:insert]...)
	with = append(with, intent.ItemID)
	with = append(with, final[insert:]...)

	// An in-place landing leaves siblings untouched, mirroring the server's
	// empty patch set.
	if source == dest && equalOrder(with, src) {
		return snap, nil
	}

	s.order[dest] = with
	item.ContainerID = dest
	s.items[intent.ItemID] = item
	s.renumber(dest)

	return snap, nil
}

// renumber reassigns dense positions from the current ordering. Caller holds
// s.mu. Server placements overwrite these on reconcile.
func (s *Store) renumber(containerID string) {
	for i, id := range s.order[containerID] {
		it, ok := s.items[id]
		if !ok {
			continue
		}
		it.Position = i
		s.items[id] = it
	}
}

func (s *Store) applyReorderLocally(containerID string, orderedIDs []string) (snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := domain.Snapshot{ContainerID: containerID, ItemIDs: s.order[containerID]}
	if _, err := domain.ComputeBulkReorder(current, orderedIDs); err != nil {
		return snapshot{}, err
	}

	snap := s.capture(containerID)
	s.order[containerID] = append([]string(nil), orderedIDs...)
	s.renumber(containerID)
	return snap, nil
}

// capture copies the orderings and every member item of the named containers.
// Caller holds s.mu.
func (s *Store) capture(containers ...string) snapshot {
	snap := snapshot{orders: make(map[string][]string), items: make(map[string]domain.Item)}
	for _, cid := range containers {
		if _, ok := snap.orders[cid]; ok {
			continue
		}
		ids := append([]string(nil), s.order[cid]...)
		snap.orders[cid] = ids
		for _, id := range ids {
			snap.items[id] = s.items[id]
		}
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cid, ids := range snap.orders {
		if len(ids) == 0 {
			delete(s.order, cid)
			continue
		}
		s.order[cid] = ids
	}
	for id, it := range snap.items {
		s.items[id] = it
	}
}

// reconcileMove overwrites local state with the server's placements. The
// server may have renumbered differently than the local guess, for instance
// after its conflict retry.
func (s *Store) reconcileMove(out *domain.MoveOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[out.Item.ID] = out.Item
	for _, patch := range out.Patches {
		ids := make([]string, 0, len(patch.Placements))
		for _, pl := range patch.Placements {
			ids = append(ids, pl.ItemID)
			it, ok := s.items[pl.ItemID]
			if !ok {
				continue
			}
			it.ContainerID = patch.ContainerID
			it.Position = pl.Position
			s.items[pl.ItemID] = it
		}
		if len(ids) == 0 {
			delete(s.order, patch.ContainerID)
			continue
		}
		s.order[patch.ContainerID] = ids
	}
}

func (s *Store) reconcileReorder(containerID string, placements []domain.Placement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(placements))
	for _, pl := range placements {
		ids = append(ids, pl.ItemID)
		it, ok := s.items[pl.ItemID]
		if !ok {
			continue
		}
		it.Position = pl.Position
		s.items[pl.ItemID] = it
	}
	s.order[containerID] = ids
}

// acquire takes the serialization slot for a key. Waiters are released in
// arrival order.
func (s *Store) acquire(key string) chan struct{} {
	s.locksMu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.locksMu.Unlock()
	ch <- struct{}{}
	return ch
}

func release(ch chan struct{}) { <-ch }

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func equalOrder(a, b []string) bool {
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
