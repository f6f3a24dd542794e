package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Syncer starts a background sync of the registry.
type Syncer interface {
	SyncResettingCache(ctx context.Context, resetCache bool, completion func(SyncResult, error), background func(BackgroundFetchResult)) bool
}

// SyncScheduler runs a registry sync on a cron schedule.
type SyncScheduler struct {
	logger   *zap.Logger
	clock    Clocker
	syncer   Syncer
	schedule string

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.RWMutex
	last    time.Time
}

// NewSyncScheduler provides a scheduler using the standard five fields cron syntax.
func NewSyncScheduler(logger *zap.Logger, clock Clocker, syncer Syncer, schedule string) *SyncScheduler {
	return &SyncScheduler{
		logger:   logger,
		clock:    clock,
		syncer:   syncer,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Run schedules the sync job and blocks until ctx is done. Running jobs
// are waited for before returning.
func (s *SyncScheduler) Run(ctx context.Context) error {
	entryID, err := s.cron.AddFunc(s.schedule, func() { s.trigger(ctx) })
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.schedule, err)
	}
	s.mu.Lock()
	s.entryID = entryID
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler: started", zap.String("schedule", s.schedule), zap.Time("next", s.cron.Entry(entryID).Next))

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler: stopped", zap.String("reason", ctx.Err().Error()))
	return nil
}

func (s *SyncScheduler) trigger(ctx context.Context) {
	s.mu.Lock()
	s.last = s.clock.Now()
	s.mu.Unlock()
	started := s.syncer.SyncResettingCache(ctx, false, func(result SyncResult, err error) {
		if err != nil {
			s.logger.Error("scheduler: sync failed", zap.String("sync.id", result.ID), zap.Error(err))
			return
		}
		s.logger.Info("scheduler: sync done", zap.String("sync.id", result.ID), zap.Stringer("fetch", result.Fetch))
	}, nil)
	if !started {
		s.logger.Info("scheduler: sync skipped, another one is running")
	}
}

// NextRun returns when the next sync fires, zero before Run.
func (s *SyncScheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns when the scheduler last fired.
func (s *SyncScheduler) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
