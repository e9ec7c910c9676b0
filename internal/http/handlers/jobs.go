package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"obgateway/internal/apperr"
	"obgateway/internal/domain/job"
	"obgateway/internal/services/jobs"
	"obgateway/internal/store/repositories"
)

func CreateSchedule(svc *jobs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID              string `json:"JobId"`
			ScheduleExpression string `json:"ScheduleExpression"`
			Description        string `json:"Description"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		sc, err := svc.CreateSchedule(r.Context(), req.JobID, req.ScheduleExpression, req.Description)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sc)
	}
}

func GetSchedule(svc *jobs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := svc.GetSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}

func ListSchedules(svc *jobs.Service, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := p.Request(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, total, err := svc.ListSchedules(r.Context(), page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePage(w, r, p, items, total, page)
	}
}

func UpdateSchedule(svc *jobs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Description        *string `json:"Description"`
			ScheduleExpression *string `json:"ScheduleExpression"`
			Status             *string `json:"Status"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		sc, err := svc.UpdateSchedule(r.Context(), chi.URLParam(r, "scheduleID"), jobs.SchedulePatch{
			Description:        req.Description,
			ScheduleExpression: req.ScheduleExpression,
			Status:             req.Status,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}

func DeleteSchedule(svc *jobs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteSchedule(r.Context(), chi.URLParam(r, "scheduleID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// TriggerExecution starts a manual run for a schedule or a bare job.
func TriggerExecution(svc *jobs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ScheduleID string `json:"ScheduleId"`
			JobID      string `json:"JobId"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		e, err := svc.TriggerManualExecution(r.Context(), req.ScheduleID, req.JobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func GetExecution(svc *jobs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.GetExecution(r.Context(), chi.URLParam(r, "executionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func GetExecutionLog(svc *jobs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lines, err := svc.GetExecutionLog(r.Context(), chi.URLParam(r, "executionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"ExecutionLog": lines})
	}
}

// ListExecutions filters on schedule-id and job-id.
func ListExecutions(svc *jobs.Service, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := p.Request(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		q := r.URL.Query()
		f := repositories.ExecutionFilter{ScheduleID: q.Get("schedule-id")}
		if v := q.Get("job-id"); v != "" {
			id, err := job.ParseID(v)
			if err != nil {
				writeError(w, r, apperr.Validation("jobs.list_executions", "%v", err))
				return
			}
			f.JobID = id
		}
		items, total, err := svc.ListExecutions(r.Context(), f, page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePage(w, r, p, items, total, page)
	}
}
