// Package governance implements the permission model, the moderation gate,
// the round lifecycle and the dispute/review consensus engine on top of the
// storage contract in package store.
package governance

import (
	"context"
	"sync/atomic"
	"time"

	"agora/governance/internal/clock"
	"agora/governance/internal/rbac"
	"agora/governance/internal/store"
)

// Notifier receives round lifecycle events. Implementations own their own
// delivery and retry policy and log failures instead of returning them.
type Notifier interface {
	RoundStarted(ctx context.Context, round store.Round, community store.Community)
	RoundClosed(ctx context.Context, round store.Round, community store.Community)
}

// Indexer mirrors disputes and reviews into the moderation queue. Calls
// are fire-and-forget.
type Indexer interface {
	IndexDispute(ctx context.Context, dispute store.Dispute, communityID int64)
	IndexReview(ctx context.Context, review store.Review, communityID int64)
}

type BehaviorPolicy struct {
	CommunityID int64
	Kind        store.ContentKind
	Behaviors   store.Behaviors
}

type Classification struct {
	EncouragedHits []string
	ViolationHits  []string
}

// ContentReviewer is the automated classifier used by ModerateWithReviewer.
type ContentReviewer interface {
	Classify(ctx context.Context, policy BehaviorPolicy, text string) (Classification, error)
}

type Options struct {
	Clock    clock.Clock
	Notifier Notifier
	Indexer  Indexer
	Reviewer ContentReviewer
	// CompletionHour is the local wall-clock hour at which a round
	// without an explicit duration stops accepting answers.
	CompletionHour int
	Location       *time.Location
	// PatchRetries bounds how often a permission patch write is retried
	// after a storage conflict.
	PatchRetries int
}

type Engine struct {
	store          store.Store
	graph          atomic.Pointer[rbac.Graph]
	clock          clock.Clock
	notifier       Notifier
	indexer        Indexer
	reviewer       ContentReviewer
	completionHour int
	location       *time.Location
	patchRetries   int
}

func New(st store.Store, graph *rbac.Graph, opts Options) *Engine {
	e := &Engine{
		store:          st,
		clock:          opts.Clock,
		notifier:       opts.Notifier,
		indexer:        opts.Indexer,
		reviewer:       opts.Reviewer,
		completionHour: opts.CompletionHour,
		location:       opts.Location,
		patchRetries:   opts.PatchRetries,
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.indexer == nil {
		e.indexer = nopIndexer{}
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.completionHour < 0 || e.completionHour > 23 {
		e.completionHour = 22
	}
	if e.patchRetries < 1 {
		e.patchRetries = 1
	}
	if graph == nil {
		graph = rbac.Default()
	}
	e.graph.Store(graph)
	return e
}

// Graph returns the active permission graph snapshot.
func (e *Engine) Graph() *rbac.Graph { return e.graph.Load() }

// ReloadGraph swaps in a new snapshot. Operations already running keep the
// snapshot they started with.
func (e *Engine) ReloadGraph(graph *rbac.Graph) {
	if graph == nil {
		return
	}
	e.graph.Store(graph)
}

func (e *Engine) Now() time.Time { return e.clock.Now() }

// txn is the per-operation view of one storage transaction: a fixed "now",
// a fixed graph snapshot and the side effects to run once it commits.
type txn struct {
	store.Tx
	now      time.Time
	graph    *rbac.Graph
	notifier Notifier
	indexer  Indexer
	onCommit []func(context.Context)
}

func (t *txn) afterCommit(fn func(context.Context)) {
	t.onCommit = append(t.onCommit, fn)
}

func (e *Engine) run(ctx context.Context, op string, fn func(context.Context, *txn) error) error {
	now := e.clock.Now()
	graph := e.Graph()
	var effects []func(context.Context)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t := &txn{Tx: tx, now: now, graph: graph, notifier: e.notifier, indexer: e.indexer}
		if err := fn(ctx, t); err != nil {
			return err
		}
		effects = t.onCommit
		return nil
	})
	if err != nil {
		return fromStore(op, err)
	}
	for _, effect := range effects {
		effect(ctx)
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) RoundStarted(context.Context, store.Round, store.Community) {}
func (nopNotifier) RoundClosed(context.Context, store.Round, store.Community)  {}

type nopIndexer struct{}

func (nopIndexer) IndexDispute(context.Context, store.Dispute, int64) {}
func (nopIndexer) IndexReview(context.Context, store.Review, int64)   {}
