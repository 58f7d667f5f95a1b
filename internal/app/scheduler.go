package app

import (
	"context"
	"errors"
	"log"
	"time"

	"agora/governance/internal/governance"
	"agora/governance/internal/lock"
)

// Advancer is the part of the engine the scheduler drives.
type Advancer interface {
	CommunityIDs(ctx context.Context) ([]int64, error)
	AdvanceCommunity(ctx context.Context, communityID int64) (governance.AdvanceResult, error)
}

// Scheduler advances every community's round lifecycle once per tick.
// Each community is advanced under a lease so replicas do not race; the
// storage constraints stay authoritative either way.
type Scheduler struct {
	engine   Advancer
	locker   lock.Locker
	interval time.Duration
	lockTTL  time.Duration
}

func NewScheduler(engine Advancer, locker lock.Locker, interval, lockTTL time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Scheduler{engine: engine, locker: locker, interval: interval, lockTTL: lockTTL}
}

type TickReport struct {
	Started int
	Closed  int
	Locked  int
	Failed  int
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		report := s.Tick(ctx)
		if report.Failed > 0 {
			log.Printf("rounds: tick finished with %d failed communities", report.Failed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport
	ids, err := s.engine.CommunityIDs(ctx)
	if err != nil {
		log.Printf("rounds: list communities: %v", err)
		report.Failed++
		return report
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return report
		}
		s.advance(ctx, id, &report)
	}
	return report
}

func (s *Scheduler) advance(ctx context.Context, communityID int64, report *TickReport) {
	lease, ok, err := s.locker.TryAcquire(ctx, lock.RoundKey(communityID), s.lockTTL)
	if err != nil {
		log.Printf("rounds: community %d: %v", communityID, err)
		report.Failed++
		return
	}
	if !ok {
		report.Locked++
		return
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			if errors.Is(err, lock.ErrNotHeld) {
				log.Printf("rounds: community %d: lease expired before release", communityID)
				return
			}
			log.Printf("rounds: community %d: %v", communityID, err)
		}
	}()

	result, err := s.engine.AdvanceCommunity(ctx, communityID)
	if err != nil {
		log.Printf("rounds: community %d: %v", communityID, err)
		report.Failed++
		return
	}
	if result.ClosedNotified {
		report.Closed++
	}
	if result.Started != nil {
		log.Printf("rounds: community %d started round %d", communityID, result.Started.ID)
		report.Started++
	}
}
