package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"obgateway/internal/domain/job"
	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

type scheduleRepository struct {
	db dbtx
}

func NewScheduleRepository(db dbtx) repositories.ScheduleRepository {
	return &scheduleRepository{db: db}
}

const scheduleColumns = `schedule_id, job_id, schedule_expression, status, description,
	next_execution_at, last_execution_at, last_execution_status, version, created_at`

func (r *scheduleRepository) Insert(ctx context.Context, s *job.Schedule) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO job_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ScheduleID, string(s.JobID), s.ScheduleExpression, string(s.Status), s.Description,
		s.NextExecutionDateTime, s.LastExecutionDateTime, string(s.LastExecutionStatus), s.Version, s.CreationDateTime)
	return translate(err, "insert schedule")
}

func (r *scheduleRepository) Get(ctx context.Context, id string) (*job.Schedule, error) {
	row := r.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM job_schedules WHERE schedule_id = $1`, id)
	s, err := scanSchedule(row)
	return s, translate(err, "get schedule")
}

func (r *scheduleRepository) Update(ctx context.Context, s *job.Schedule) error {
	version := s.Version + 1
	tag, err := r.db.Exec(ctx, `
		UPDATE job_schedules
		SET schedule_expression = $1, status = $2, description = $3, next_execution_at = $4,
		    last_execution_at = $5, last_execution_status = $6, version = $7
		WHERE schedule_id = $8 AND version = $9`,
		s.ScheduleExpression, string(s.Status), s.Description, s.NextExecutionDateTime,
		s.LastExecutionDateTime, string(s.LastExecutionStatus), version, s.ScheduleID, s.Version)
	if err != nil {
		return translate(err, "update schedule")
	}
	if tag.RowsAffected() == 0 {
		return casMiss(ctx, r.db, "job_schedules", "schedule_id", s.ScheduleID)
	}
	s.Version = version
	return nil
}

func (r *scheduleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM job_schedules WHERE schedule_id = $1`, id)
	if err != nil {
		return translate(err, "delete schedule")
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *scheduleRepository) List(ctx context.Context, page pagination.Request) ([]*job.Schedule, int, error) {
	var w where
	if !page.Snapshot.IsZero() {
		w.add("created_at <= ?", page.Snapshot)
	}
	w.after("created_at", "schedule_id", page)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM job_schedules`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, translate(err, "count schedules")
	}
	total += page.Served()
	query, args := w.paged("created_at", "schedule_id", page)
	out, err := r.query(ctx, `SELECT `+scheduleColumns+` FROM job_schedules`+query, args...)
	return forward(out, page), total, err
}

func (r *scheduleRepository) ListDue(ctx context.Context, now time.Time) ([]*job.Schedule, error) {
	return r.query(ctx, `
		SELECT `+scheduleColumns+` FROM job_schedules
		WHERE status = $1 AND next_execution_at <= $2
		ORDER BY next_execution_at, schedule_id`,
		string(job.ScheduleActive), now)
}

func (r *scheduleRepository) query(ctx context.Context, sql string, args ...any) ([]*job.Schedule, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err, "list schedules")
	}
	defer rows.Close()
	var out []*job.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, translate(err, "scan schedule")
		}
		out = append(out, s)
	}
	return out, translate(rows.Err(), "list schedules")
}

func scanSchedule(row pgx.Row) (*job.Schedule, error) {
	var (
		s                       job.Schedule
		jobID, status, lastStat string
	)
	err := row.Scan(&s.ScheduleID, &jobID, &s.ScheduleExpression, &status, &s.Description,
		&s.NextExecutionDateTime, &s.LastExecutionDateTime, &lastStat, &s.Version, &s.CreationDateTime)
	if err != nil {
		return nil, err
	}
	s.JobID = job.ID(jobID)
	s.Status = job.ScheduleStatus(status)
	s.LastExecutionStatus = job.Result(lastStat)
	s.CreationDateTime = s.CreationDateTime.UTC()
	s.NextExecutionDateTime = utcPtr(s.NextExecutionDateTime)
	s.LastExecutionDateTime = utcPtr(s.LastExecutionDateTime)
	return &s, nil
}

type executionRepository struct {
	db dbtx
}

func NewExecutionRepository(db dbtx) repositories.ExecutionRepository {
	return &executionRepository{db: db}
}

const executionColumns = `execution_id, schedule_id, job_id, result, started_at, ended_at, details, execution_log, version`

// Insert relies on job_executions_running_idx to refuse a second running execution of a schedule.
func (r *executionRepository) Insert(ctx context.Context, e *job.Execution) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO job_executions (`+executionColumns+`)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)`,
		e.ExecutionID, e.ScheduleID, string(e.JobID), string(e.Result), e.StartDateTime,
		e.EndDateTime, e.Details, logLines(e.ExecutionLog), e.Version)
	return translate(err, "insert execution")
}

func (r *executionRepository) Get(ctx context.Context, id string) (*job.Execution, error) {
	row := r.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM job_executions WHERE execution_id = $1`, id)
	e, err := scanExecution(row)
	return e, translate(err, "get execution")
}

func (r *executionRepository) Update(ctx context.Context, e *job.Execution) error {
	version := e.Version + 1
	tag, err := r.db.Exec(ctx, `
		UPDATE job_executions
		SET result = $1, ended_at = $2, details = $3, execution_log = $4, version = $5
		WHERE execution_id = $6 AND version = $7`,
		string(e.Result), e.EndDateTime, e.Details, logLines(e.ExecutionLog), version, e.ExecutionID, e.Version)
	if err != nil {
		return translate(err, "update execution")
	}
	if tag.RowsAffected() == 0 {
		return casMiss(ctx, r.db, "job_executions", "execution_id", e.ExecutionID)
	}
	e.Version = version
	return nil
}

func (r *executionRepository) InProgress(ctx context.Context, scheduleID string) (*job.Execution, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+executionColumns+` FROM job_executions
		WHERE schedule_id = $1 AND result = $2`, scheduleID, string(job.ResultInProgress))
	e, err := scanExecution(row)
	return e, translate(err, "running execution")
}

func (r *executionRepository) List(ctx context.Context, f repositories.ExecutionFilter, page pagination.Request) ([]*job.Execution, int, error) {
	var w where
	if f.ScheduleID != "" {
		w.add("schedule_id = ?", f.ScheduleID)
	}
	if f.JobID != "" {
		w.add("job_id = ?", string(f.JobID))
	}
	if !page.Snapshot.IsZero() {
		w.add("started_at <= ?", page.Snapshot)
	}
	w.after("started_at", "execution_id", page)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM job_executions`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, translate(err, "count executions")
	}
	total += page.Served()
	query, args := w.paged("started_at", "execution_id", page)
	rows, err := r.db.Query(ctx, `SELECT `+executionColumns+` FROM job_executions`+query, args...)
	if err != nil {
		return nil, 0, translate(err, "list executions")
	}
	defer rows.Close()
	var out []*job.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, translate(err, "scan execution")
		}
		out = append(out, e)
	}
	return forward(out, page), total, translate(rows.Err(), "list executions")
}

func scanExecution(row pgx.Row) (*job.Execution, error) {
	var (
		e              job.Execution
		scheduleID     *string
		jobID, result  string
	)
	err := row.Scan(&e.ExecutionID, &scheduleID, &jobID, &result, &e.StartDateTime,
		&e.EndDateTime, &e.Details, &e.ExecutionLog, &e.Version)
	if err != nil {
		return nil, err
	}
	if scheduleID != nil {
		e.ScheduleID = *scheduleID
	}
	e.JobID = job.ID(jobID)
	e.Result = job.Result(result)
	e.StartDateTime = e.StartDateTime.UTC()
	e.EndDateTime = utcPtr(e.EndDateTime)
	return &e, nil
}

func logLines(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
