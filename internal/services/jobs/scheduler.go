package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/store/repositories"
)

// Run fires due schedules every poll interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Info().Dur("poll_every", s.pollEvery).Msg("job scheduler started")
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("job scheduler stopping")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("job scheduler tick failed")
			}
		}
	}
}

// Tick starts an execution for every due schedule and moves each schedule's
// next execution forward. A schedule whose previous run is still in progress
// is skipped for this occurrence. It returns the number of executions started.
func (s *Service) Tick(ctx context.Context) (int, error) {
	const op = "jobs.tick"
	due, err := s.store.Schedules().ListDue(ctx, s.clk.Now())
	if err != nil {
		return 0, apperr.Internal(op, err)
	}
	started := 0
	for _, sc := range due {
		if ctx.Err() != nil {
			return started, ctx.Err()
		}
		ok, err := s.fire(ctx, sc.ScheduleID)
		if err != nil {
			log.Error().Err(err).Str("schedule_id", sc.ScheduleID).Msg("scheduled execution failed to start")
			continue
		}
		if ok {
			started++
		}
	}
	return started, nil
}

func (s *Service) fire(ctx context.Context, scheduleID string) (bool, error) {
	const op = "jobs.tick"
	started := false
	err := repositories.WithLock(ctx, s.locker, repositories.ScheduleKey(scheduleID), func() error {
		sc, err := s.store.Schedules().Get(ctx, scheduleID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		if err != nil {
			return apperr.Internal(op, err)
		}
		now := s.clk.Now()
		if !sc.Due(now) {
			return nil
		}

		_, err = s.start(ctx, op, sc.ScheduleID, sc.JobID)
		switch {
		case err == nil:
			started = true
		case apperr.Is(err, apperr.KindConflict):
			log.Info().Str("schedule_id", sc.ScheduleID).Msg("previous execution still running, skipping")
		default:
			return err
		}

		sched, err := s.parse(op, sc.ScheduleExpression)
		if err != nil {
			return err
		}
		next := sched.Next(now)
		sc.NextExecutionDateTime = &next
		if err := s.store.Schedules().Update(ctx, sc); err != nil {
			return repositories.AsAppError(op, "schedule", err)
		}
		return nil
	})
	return started, err
}
