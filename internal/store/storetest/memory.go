// Package storetest provides an in-memory store.Store for tests. It
// enforces the same uniqueness and active-round constraints as the
// Postgres schema and rolls back on error.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agora/governance/internal/store"
)

type patchKey struct {
	membershipID int64
	permission   string
}

type roleKey struct {
	membershipID int64
	role         string
}

type state struct {
	nextID      int64
	communities map[int64]store.Community
	memberships map[int64]store.Membership
	roles       map[roleKey]int64
	patches     map[patchKey]store.Patch
	posts       map[int64]store.Post
	prompts     map[int64]store.Prompt
	rounds      map[int64]store.Round
	disputes    map[int64]store.Dispute
	reviews     map[int64]store.Review
	seq         int64
}

func newState() *state {
	return &state{
		nextID:      1,
		communities: map[int64]store.Community{},
		memberships: map[int64]store.Membership{},
		roles:       map[roleKey]int64{},
		patches:     map[patchKey]store.Patch{},
		posts:       map[int64]store.Post{},
		prompts:     map[int64]store.Prompt{},
		rounds:      map[int64]store.Round{},
		disputes:    map[int64]store.Dispute{},
		reviews:     map[int64]store.Review{},
	}
}

func (s *state) clone() *state {
	out := newState()
	out.nextID = s.nextID
	out.seq = s.seq
	for k, v := range s.communities {
		v.Flags = append([]string(nil), v.Flags...)
		v.BridgeIDs = append([]int64(nil), v.BridgeIDs...)
		out.communities[k] = v
	}
	for k, v := range s.memberships {
		out.memberships[k] = v
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	for k, v := range s.patches {
		out.patches[k] = v
	}
	for k, v := range s.posts {
		out.posts[k] = clonePost(v)
	}
	for k, v := range s.prompts {
		out.prompts[k] = v
	}
	for k, v := range s.rounds {
		out.rounds[k] = v
	}
	for k, v := range s.disputes {
		out.disputes[k] = v
	}
	for k, v := range s.reviews {
		out.reviews[k] = v
	}
	return out
}

func clonePost(p store.Post) store.Post {
	vis := make(map[int64]store.Visibility, len(p.Visibility))
	for k, v := range p.Visibility {
		vis[k] = v
	}
	p.Visibility = vis
	return p
}

// Store serializes transactions with a single mutex.
type Store struct {
	mu      sync.Mutex
	state   *state
	commits int

	// FailInsertPatch makes the next n InsertPatch calls report a conflict.
	FailInsertPatch int
}

func New() *Store {
	return &Store{state: newState()}
}

// Commits counts successfully committed transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) WithinTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	tx := &memTx{st: working, owner: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = working
	s.commits++
	return nil
}

// Seed writes fixtures straight into committed state.
func (s *Store) Seed(fn func(*Seeder)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Seeder{st: s.state})
}

type Seeder struct {
	st *state
}

func (sd *Seeder) Community(name string, flags ...string) store.Community {
	c := store.Community{ID: sd.st.id(), Name: name, Flags: append([]string{}, flags...), Behaviors: store.DefaultBehaviors()}
	sd.st.communities[c.ID] = c
	return c
}

func (sd *Seeder) Bridge(name string, a, b int64, flags ...string) store.Community {
	c := sd.Community(name, flags...)
	c.BridgeIDs = []int64{a, b}
	sd.st.communities[c.ID] = c
	return c
}

func (sd *Seeder) Member(personaID, communityID int64, roles ...string) store.Membership {
	m := store.Membership{ID: sd.st.id(), PersonaID: personaID, CommunityID: communityID}
	sd.st.memberships[m.ID] = m
	for _, role := range roles {
		sd.st.roles[roleKey{m.ID, role}] = sd.st.tick()
	}
	return m
}

func (sd *Seeder) Post(communityID, authorID int64, text string) store.Post {
	p := store.Post{ID: sd.st.id(), CommunityID: communityID, AuthorID: authorID, Text: text, Visibility: map[int64]store.Visibility{}}
	sd.st.posts[p.ID] = p
	return p
}

func (sd *Seeder) Prompt(communityID int64, priority int, text string) store.Prompt {
	p := store.Prompt{ID: sd.st.id(), CommunityID: communityID, Priority: priority, Text: text, Status: store.PromptEligible}
	sd.st.prompts[p.ID] = p
	return p
}

func (sd *Seeder) Round(r store.Round) store.Round {
	r.ID = sd.st.id()
	sd.st.rounds[r.ID] = r
	return r
}

// Post reads committed state without a transaction.
func (s *Store) Post(id int64) store.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePost(s.state.posts[id])
}

func (s *Store) Dispute(id int64) store.Dispute {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.disputes[id]
}

func (s *Store) Round(id int64) store.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.rounds[id]
}

func (s *Store) Prompt(id int64) store.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.prompts[id]
}

func (s *Store) Reviews(disputeID int64) []store.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.reviewsFor(disputeID)
}

func (s *Store) Rounds(communityID int64) []store.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Round
	for _, r := range s.state.rounds {
		if r.CommunityID == communityID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *state) id() int64 {
	id := st.nextID
	st.nextID++
	return id
}

func (st *state) tick() int64 {
	st.seq++
	return st.seq
}

func (st *state) reviewsFor(disputeID int64) []store.Review {
	out := make([]store.Review, 0)
	for _, r := range st.reviews {
		if r.DisputeID == disputeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, store.ErrNotFound)
}

func conflict(what string) error {
	return fmt.Errorf("%s: %w", what, store.ErrConflict)
}

func active(r store.Round, now time.Time) bool {
	if r.StartTime == nil || r.StartTime.After(now) {
		return false
	}
	return r.EndTime == nil || r.EndTime.After(now)
}

// overlaps mirrors the rounds_one_active exclusion constraint over
// half-open [start, end) ranges.
func overlaps(a, b store.Round) bool {
	if a.StartTime == nil || b.StartTime == nil || empty(a) || empty(b) {
		return false
	}
	aEndsBeforeB := a.EndTime != nil && !a.EndTime.After(*b.StartTime)
	bEndsBeforeA := b.EndTime != nil && !b.EndTime.After(*a.StartTime)
	return !aEndsBeforeB && !bEndsBeforeA
}

func contains(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func empty(r store.Round) bool {
	return r.EndTime != nil && !r.EndTime.After(*r.StartTime)
}
