package job

import (
	"fmt"
	"strings"
	"time"

	"obgateway/internal/apperr"
	"obgateway/internal/pagination"
)

// ID names one of the known background jobs.
type ID string

const (
	RefreshAccounts ID = "REFRESH_ACCOUNTS"
	RefreshPayments ID = "REFRESH_PAYMENTS"
)

var knownJobs = []ID{RefreshAccounts, RefreshPayments}

func ParseID(s string) (ID, error) {
	id := ID(strings.ToUpper(strings.TrimSpace(s)))
	for _, k := range knownJobs {
		if id == k {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown job %q", s)
}

type ScheduleStatus string

const (
	ScheduleActive   ScheduleStatus = "Active"
	ScheduleInactive ScheduleStatus = "Inactive"
)

func ParseScheduleStatus(s string) (ScheduleStatus, error) {
	switch st := ScheduleStatus(s); st {
	case ScheduleActive, ScheduleInactive:
		return st, nil
	}
	return "", fmt.Errorf("Status must be Active or Inactive")
}

// Result is the outcome of an execution.
type Result string

const (
	ResultInProgress Result = "In progress"
	ResultSuccess    Result = "Success"
	ResultFailure    Result = "Failure"
)

// Schedule drives automatic executions of a job from a cron expression.
type Schedule struct {
	ScheduleID            string         `json:"ScheduleId"`
	JobID                 ID             `json:"JobId"`
	ScheduleExpression    string         `json:"ScheduleExpression"`
	Status                ScheduleStatus `json:"Status"`
	Description           string         `json:"Description,omitempty"`
	NextExecutionDateTime *time.Time     `json:"NextExecutionDateTime,omitempty"`
	LastExecutionDateTime *time.Time     `json:"LastExecutionDateTime,omitempty"`
	LastExecutionStatus   Result         `json:"LastExecutionStatus,omitempty"`
	CreationDateTime      time.Time      `json:"CreationDateTime"`
	Version               int64          `json:"-"`
}

// Due reports whether an active schedule should fire at now.
func (s *Schedule) Due(now time.Time) bool {
	return s.Status == ScheduleActive && s.NextExecutionDateTime != nil && !now.Before(*s.NextExecutionDateTime)
}

func (s *Schedule) Clone() *Schedule {
	cp := *s
	cp.NextExecutionDateTime = cloneTime(s.NextExecutionDateTime)
	cp.LastExecutionDateTime = cloneTime(s.LastExecutionDateTime)
	return &cp
}

// Execution is one run of a job, manual or scheduled.
type Execution struct {
	ExecutionID   string     `json:"ExecutionId"`
	ScheduleID    string     `json:"ScheduleId,omitempty"`
	JobID         ID         `json:"JobId"`
	Result        Result     `json:"Result"`
	StartDateTime time.Time  `json:"StartDateTime"`
	EndDateTime   *time.Time `json:"EndDateTime,omitempty"`
	Details       string     `json:"Details,omitempty"`
	ExecutionLog  []string   `json:"-"`
	Version       int64      `json:"-"`
}

func NewExecution(id, scheduleID string, jobID ID, now time.Time) *Execution {
	return &Execution{
		ExecutionID:   id,
		ScheduleID:    scheduleID,
		JobID:         jobID,
		Result:        ResultInProgress,
		StartDateTime: now,
	}
}

// Append adds one log line while the execution is running.
func (e *Execution) Append(line string) error {
	if e.Result != ResultInProgress {
		return apperr.Conflict("job.append_log", "execution %s is already %s", e.ExecutionID, e.Result)
	}
	e.ExecutionLog = append(e.ExecutionLog, line)
	return nil
}

// Complete moves the execution to a terminal result.
func (e *Execution) Complete(result Result, details string, now time.Time) error {
	const op = "job.complete_execution"
	if result != ResultSuccess && result != ResultFailure {
		return apperr.Validation(op, "result must be Success or Failure")
	}
	if e.Result != ResultInProgress {
		return apperr.Conflict(op, "execution %s is already %s", e.ExecutionID, e.Result)
	}
	e.Result = result
	e.Details = details
	end := now
	if end.Before(e.StartDateTime) {
		end = e.StartDateTime
	}
	e.EndDateTime = &end
	return nil
}

func (e *Execution) Clone() *Execution {
	cp := *e
	cp.EndDateTime = cloneTime(e.EndDateTime)
	cp.ExecutionLog = append([]string(nil), e.ExecutionLog...)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (s *Schedule) PageKey() pagination.Cursor {
	return pagination.Cursor{At: s.CreationDateTime, ID: s.ScheduleID}
}

// PageKey orders executions by start time.
func (e *Execution) PageKey() pagination.Cursor {
	return pagination.Cursor{At: e.StartDateTime, ID: e.ExecutionID}
}
