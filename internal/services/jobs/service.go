package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/job"
	"obgateway/internal/metrics"
	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

// Runner performs one execution of a job. Lines passed to logf are appended to
// the execution log; the returned details are stored with the result.
type Runner func(ctx context.Context, logf func(format string, args ...any)) (details string, err error)

// Service manages job schedules and executes jobs, manually or from the scheduler loop.
type Service struct {
	store      repositories.Store
	locker     repositories.Locker
	clk        clock.Clock
	parser     cron.Parser
	runners    map[job.ID]Runner
	pollEvery  time.Duration
	runTimeout time.Duration
	newID      func() string
	runs       sync.WaitGroup
}

// NewService creates a job service. pollEvery is the scheduler tick; runTimeout
// bounds a single execution.
func NewService(store repositories.Store, locker repositories.Locker, clk clock.Clock, pollEvery, runTimeout time.Duration) *Service {
	if pollEvery == 0 {
		pollEvery = 15 * time.Second
	}
	if runTimeout == 0 {
		runTimeout = 10 * time.Minute
	}
	return &Service{
		store:      store,
		locker:     locker,
		clk:        clk,
		parser:     cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		runners:    map[job.ID]Runner{},
		pollEvery:  pollEvery,
		runTimeout: runTimeout,
		newID:      uuid.NewString,
	}
}

// Register installs the runner for a job. Call before Run.
func (s *Service) Register(id job.ID, r Runner) {
	s.runners[id] = r
}

// Wait blocks until every started execution has finished.
func (s *Service) Wait() {
	s.runs.Wait()
}

func (s *Service) CreateSchedule(ctx context.Context, jobID, expression, description string) (*job.Schedule, error) {
	const op = "jobs.create_schedule"
	id, err := s.jobID(op, jobID)
	if err != nil {
		return nil, err
	}
	expression = strings.TrimSpace(expression)
	sched, err := s.parse(op, expression)
	if err != nil {
		return nil, err
	}
	if len(description) > 255 {
		return nil, apperr.Validation(op, "Description must be at most 255 characters")
	}
	now := s.clk.Now()
	next := sched.Next(now)
	sc := &job.Schedule{
		ScheduleID:            s.newID(),
		JobID:                 id,
		ScheduleExpression:    expression,
		Status:                job.ScheduleActive,
		Description:           description,
		NextExecutionDateTime: &next,
		CreationDateTime:      now,
	}
	if err := s.store.Schedules().Insert(ctx, sc); err != nil {
		return nil, repositories.AsAppError(op, "schedule", err)
	}
	log.Info().
		Str("schedule_id", sc.ScheduleID).
		Str("job_id", string(id)).
		Time("next", next).
		Msg("job schedule created")
	return sc, nil
}

// SchedulePatch is a partial schedule update; nil fields are left unchanged.
type SchedulePatch struct {
	Description        *string
	ScheduleExpression *string
	Status             *string
}

// UpdateSchedule applies patch. The next execution is recomputed when the
// expression or status changes; an inactive schedule has none.
func (s *Service) UpdateSchedule(ctx context.Context, id string, patch SchedulePatch) (*job.Schedule, error) {
	const op = "jobs.update_schedule"
	var out *job.Schedule
	err := repositories.WithLock(ctx, s.locker, repositories.ScheduleKey(id), func() error {
		sc, err := s.store.Schedules().Get(ctx, id)
		if err != nil {
			return repositories.AsAppError(op, "schedule "+id, err)
		}
		recompute := false
		var sched cron.Schedule
		if patch.ScheduleExpression != nil {
			expr := strings.TrimSpace(*patch.ScheduleExpression)
			if sched, err = s.parse(op, expr); err != nil {
				return err
			}
			recompute = recompute || expr != sc.ScheduleExpression
			sc.ScheduleExpression = expr
		}
		if patch.Status != nil {
			st, err := job.ParseScheduleStatus(*patch.Status)
			if err != nil {
				return apperr.Validation(op, "%v", err)
			}
			recompute = recompute || st != sc.Status
			sc.Status = st
		}
		if patch.Description != nil {
			if len(*patch.Description) > 255 {
				return apperr.Validation(op, "Description must be at most 255 characters")
			}
			sc.Description = *patch.Description
		}
		if recompute {
			sc.NextExecutionDateTime = nil
			if sc.Status == job.ScheduleActive {
				if sched == nil {
					if sched, err = s.parse(op, sc.ScheduleExpression); err != nil {
						return err
					}
				}
				next := sched.Next(s.clk.Now())
				sc.NextExecutionDateTime = &next
			}
		}
		if err := s.store.Schedules().Update(ctx, sc); err != nil {
			return repositories.AsAppError(op, "schedule", err)
		}
		out = sc
		return nil
	})
	return out, err
}

// DeleteSchedule removes a schedule that has no execution in progress.
// Past executions are kept.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	const op = "jobs.delete_schedule"
	return repositories.WithLock(ctx, s.locker, repositories.ScheduleKey(id), func() error {
		if _, err := s.store.Schedules().Get(ctx, id); err != nil {
			return repositories.AsAppError(op, "schedule "+id, err)
		}
		if _, err := s.store.Executions().InProgress(ctx, id); err == nil {
			return apperr.Conflict(op, "schedule %s has an execution in progress", id)
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return apperr.Internal(op, err)
		}
		if err := s.store.Schedules().Delete(ctx, id); err != nil {
			return repositories.AsAppError(op, "schedule "+id, err)
		}
		log.Info().Str("schedule_id", id).Msg("job schedule deleted")
		return nil
	})
}

func (s *Service) GetSchedule(ctx context.Context, id string) (*job.Schedule, error) {
	sc, err := s.store.Schedules().Get(ctx, id)
	if err != nil {
		return nil, repositories.AsAppError("jobs.get_schedule", "schedule "+id, err)
	}
	return sc, nil
}

func (s *Service) ListSchedules(ctx context.Context, page pagination.Request) ([]*job.Schedule, int, error) {
	items, total, err := s.store.Schedules().List(ctx, page)
	if err != nil {
		return nil, 0, repositories.AsAppError("jobs.list_schedules", "schedule", err)
	}
	return items, total, nil
}

// EnsureSchedule creates an active schedule for jobID unless one already
// exists for that job, whatever its status. It returns the schedule it found
// or created.
func (s *Service) EnsureSchedule(ctx context.Context, jobID, expression, description string) (*job.Schedule, error) {
	const op = "jobs.ensure_schedule"
	id, err := s.jobID(op, jobID)
	if err != nil {
		return nil, err
	}
	var out *job.Schedule
	err = repositories.WithLock(ctx, s.locker, repositories.ScheduleKey("job:"+string(id)), func() error {
		page := pagination.Request{Page: 1, PageSize: 100}
		for {
			items, total, err := s.ListSchedules(ctx, page)
			if err != nil {
				return err
			}
			for _, sc := range items {
				if sc.JobID == id {
					out = sc
					return nil
				}
			}
			if len(items) == 0 || page.Page*page.PageSize >= total {
				break
			}
			last := items[len(items)-1].PageKey()
			page.Page, page.After = page.Page+1, &last
		}
		sc, err := s.CreateSchedule(ctx, jobID, expression, description)
		out = sc
		return err
	})
	return out, err
}

// TriggerManualExecution starts a job now, either for a schedule or for a bare
// job id. A schedule with an execution in progress is busy.
func (s *Service) TriggerManualExecution(ctx context.Context, scheduleID, jobID string) (*job.Execution, error) {
	const op = "jobs.trigger"
	scheduleID = strings.TrimSpace(scheduleID)
	if scheduleID == "" {
		if strings.TrimSpace(jobID) == "" {
			return nil, apperr.Validation(op, "ScheduleId or JobId is required")
		}
		id, err := s.jobID(op, jobID)
		if err != nil {
			return nil, err
		}
		return s.start(ctx, op, "", id)
	}

	var out *job.Execution
	err := repositories.WithLock(ctx, s.locker, repositories.ScheduleKey(scheduleID), func() error {
		sc, err := s.store.Schedules().Get(ctx, scheduleID)
		if err != nil {
			return repositories.AsAppError(op, "schedule "+scheduleID, err)
		}
		if jobID != "" {
			id, err := job.ParseID(jobID)
			if err != nil || id != sc.JobID {
				return apperr.Validation(op, "JobId does not match schedule %s", scheduleID)
			}
		}
		out, err = s.start(ctx, op, scheduleID, sc.JobID)
		return err
	})
	return out, err
}

// start records a new in-progress execution and runs it in the background.
func (s *Service) start(ctx context.Context, op, scheduleID string, id job.ID) (*job.Execution, error) {
	e := job.NewExecution(s.newID(), scheduleID, id, s.clk.Now())
	if err := s.store.Executions().Insert(ctx, e); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, apperr.Conflict(op, "schedule %s already has an execution in progress", scheduleID)
		}
		return nil, apperr.Internal(op, err)
	}
	log.Info().
		Str("execution_id", e.ExecutionID).
		Str("schedule_id", scheduleID).
		Str("job_id", string(id)).
		Msg("job execution started")

	s.runs.Add(1)
	go s.run(context.WithoutCancel(ctx), e.ExecutionID, id)
	return e.Clone(), nil
}

func (s *Service) run(ctx context.Context, executionID string, id job.ID) {
	defer s.runs.Done()
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	result, details := job.ResultSuccess, ""
	runner, ok := s.runners[id]
	if !ok {
		result, details = job.ResultFailure, fmt.Sprintf("no runner registered for %s", id)
	} else {
		logf := func(format string, args ...any) {
			if err := s.AppendLog(ctx, executionID, fmt.Sprintf(format, args...)); err != nil {
				log.Warn().Err(err).Str("execution_id", executionID).Msg("append execution log failed")
			}
		}
		var err error
		details, err = s.safeRun(ctx, runner, logf)
		if err != nil {
			result = job.ResultFailure
			if details == "" {
				details = err.Error()
			}
		}
	}
	if err := s.CompleteExecution(ctx, executionID, string(result), details); err != nil {
		log.Error().Err(err).Str("execution_id", executionID).Msg("complete execution failed")
	}
}

func (s *Service) safeRun(ctx context.Context, r Runner, logf func(string, ...any)) (details string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return r(ctx, logf)
}

// AppendLog adds a line to a running execution's log.
func (s *Service) AppendLog(ctx context.Context, executionID, line string) error {
	const op = "jobs.append_log"
	return repositories.WithLock(ctx, s.locker, repositories.ExecutionKey(executionID), func() error {
		e, err := s.store.Executions().Get(ctx, executionID)
		if err != nil {
			return repositories.AsAppError(op, "execution "+executionID, err)
		}
		if err := e.Append(line); err != nil {
			return err
		}
		if err := s.store.Executions().Update(ctx, e); err != nil {
			return repositories.AsAppError(op, "execution", err)
		}
		return nil
	})
}

// CompleteExecution records the terminal result of an execution and stamps
// its schedule's last execution.
func (s *Service) CompleteExecution(ctx context.Context, executionID, result, details string) error {
	const op = "jobs.complete_execution"
	var done *job.Execution
	err := repositories.WithLock(ctx, s.locker, repositories.ExecutionKey(executionID), func() error {
		e, err := s.store.Executions().Get(ctx, executionID)
		if err != nil {
			return repositories.AsAppError(op, "execution "+executionID, err)
		}
		if err := e.Complete(job.Result(result), details, s.clk.Now()); err != nil {
			return err
		}
		if err := s.store.Executions().Update(ctx, e); err != nil {
			return repositories.AsAppError(op, "execution", err)
		}
		done = e
		return nil
	})
	if err != nil {
		return err
	}

	metrics.JobExecutions.WithLabelValues(string(done.JobID), string(done.Result)).Inc()
	log.Info().
		Str("execution_id", executionID).
		Str("job_id", string(done.JobID)).
		Str("result", string(done.Result)).
		Dur("took", done.EndDateTime.Sub(done.StartDateTime)).
		Msg("job execution finished")

	if done.ScheduleID == "" {
		return nil
	}
	return repositories.WithLock(ctx, s.locker, repositories.ScheduleKey(done.ScheduleID), func() error {
		sc, err := s.store.Schedules().Get(ctx, done.ScheduleID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		if err != nil {
			return apperr.Internal(op, err)
		}
		sc.LastExecutionDateTime = done.EndDateTime
		sc.LastExecutionStatus = done.Result
		if err := s.store.Schedules().Update(ctx, sc); err != nil {
			return repositories.AsAppError(op, "schedule", err)
		}
		return nil
	})
}

func (s *Service) GetExecution(ctx context.Context, id string) (*job.Execution, error) {
	e, err := s.store.Executions().Get(ctx, id)
	if err != nil {
		return nil, repositories.AsAppError("jobs.get_execution", "execution "+id, err)
	}
	return e, nil
}

func (s *Service) GetExecutionLog(ctx context.Context, id string) ([]string, error) {
	e, err := s.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.ExecutionLog == nil {
		return []string{}, nil
	}
	return e.ExecutionLog, nil
}

func (s *Service) ListExecutions(ctx context.Context, f repositories.ExecutionFilter, page pagination.Request) ([]*job.Execution, int, error) {
	items, total, err := s.store.Executions().List(ctx, f, page)
	if err != nil {
		return nil, 0, repositories.AsAppError("jobs.list_executions", "execution", err)
	}
	return items, total, nil
}

func (s *Service) jobID(op, raw string) (job.ID, error) {
	id, err := job.ParseID(raw)
	if err != nil {
		return "", apperr.Validation(op, "%v", err)
	}
	if _, ok := s.runners[id]; !ok {
		return "", apperr.Validation(op, "job %s is not available", id)
	}
	return id, nil
}

func (s *Service) parse(op, expression string) (cron.Schedule, error) {
	if expression == "" {
		return nil, apperr.Validation(op, "ScheduleExpression is required")
	}
	sched, err := s.parser.Parse(expression)
	if err != nil {
		return nil, apperr.Validation(op, "invalid ScheduleExpression: %v", err)
	}
	return sched, nil
}
