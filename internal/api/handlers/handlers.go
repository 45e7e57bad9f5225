package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/spend-analytics/internal/api/middleware"
	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/export"
	"github.com/dvloznov/spend-analytics/internal/jobs"
	"github.com/rs/zerolog"
)

// UserLister lists the users available for selection.
type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// UsersHandler handles user-related endpoints.
type UsersHandler struct {
	users UserLister
	log   zerolog.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(users UserLister, log zerolog.Logger) *UsersHandler {
	return &UsersHandler{
		users: users,
		log:   log,
	}
}

// ListUsers handles GET /api/users
func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list users")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	if users == nil {
		users = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// AnalysesHandler handles analysis endpoints.
type AnalysesHandler struct {
	publisher     jobs.Publisher
	store         jobs.JobStore
	defaultSource string
	checkSource   func(location string) error
	log           zerolog.Logger
}

// NewAnalysesHandler creates a new analyses handler. defaultSource is used
// when a request names no source.
func NewAnalysesHandler(publisher jobs.Publisher, store jobs.JobStore, defaultSource string, log zerolog.Logger) *AnalysesHandler {
	return &AnalysesHandler{
		publisher:     publisher,
		store:         store,
		defaultSource: defaultSource,
		log:           log,
	}
}

// WithSourceCheck makes CreateAnalysis reject sources for which check
// returns an error.
func (h *AnalysesHandler) WithSourceCheck(check func(location string) error) *AnalysesHandler {
	h.checkSource = check
	return h
}

// CreateAnalysis handles POST /api/analyses
func (h *AnalysesHandler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source            string `json:"source"`
		UserID            string `json:"user_id"`
		From              string `json:"from"`
		To                string `json:"to"`
		DuplicateRounding string `json:"duplicate_rounding"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job := &jobs.AnalysisJob{
		Source:            req.Source,
		UserID:            strings.TrimSpace(req.UserID),
		From:              req.From,
		To:                req.To,
		DuplicateRounding: req.DuplicateRounding,
	}
	if job.Source == "" {
		job.Source = h.defaultSource
	}
	if job.Source == "" {
		middleware.WriteError(w, http.StatusBadRequest, "source is required")
		return
	}
	if h.checkSource != nil {
		if err := h.checkSource(job.Source); err != nil {
			h.log.Warn().Err(err).Str("source", job.Source).Msg("Rejected analysis source")
			middleware.WriteError(w, http.StatusForbidden, "source is not allowed")
			return
		}
	}
	if _, err := job.Request(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.publisher.PublishAnalysis(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue analysis job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue analysis job")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("source", job.Source).
		Str("user_id", job.UserID).
		Msg("Analysis job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

type summaryRecord struct {
	UserID       string `json:"UserID"`
	AnomalyType  string `json:"Anomaly_Type"`
	AnomalyCount int    `json:"Anomaly_Count"`
}

// GetAnalysis handles GET /api/analyses/{id}
// An optional anomaly_type query parameter filters the anomaly ledger.
func (h *AnalysesHandler) GetAnalysis(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	filter, err := anomalyTypeParam(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.writeLookupError(w, err, jobID)
		return
	}

	body := map[string]interface{}{"job": job}
	if job.Status != jobs.JobStatusCompleted {
		middleware.WriteJSON(w, http.StatusOK, body)
		return
	}

	res, err := h.store.GetResult(ctx, jobID)
	if err != nil {
		h.writeLookupError(w, err, jobID)
		return
	}

	summary := make([]summaryRecord, len(res.Summary))
	for i, c := range res.Summary {
		summary[i] = summaryRecord{UserID: c.UserID, AnomalyType: string(c.AnomalyType), AnomalyCount: c.AnomalyCount}
	}

	body["run"] = export.NewRunInfo(res)
	body["anomalies"] = export.AnomalyRecords(res.AnomaliesOfType(filter))
	body["summary"] = summary
	body["tables"] = export.TableNames()
	middleware.WriteJSON(w, http.StatusOK, body)
}

// GetTable handles GET /api/analyses/{id}/tables/{name}.csv
// The anomaly_type filter applies to the anomalies table.
func (h *AnalysesHandler) GetTable(w http.ResponseWriter, r *http.Request, jobID, name string) {
	ctx := r.Context()

	filter, err := anomalyTypeParam(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.store.GetResult(ctx, jobID)
	if err != nil {
		h.writeLookupError(w, err, jobID)
		return
	}

	var table export.Table
	if name == export.TableAnomalies {
		table = export.AnomalyTable(res.AnomaliesOfType(filter))
	} else {
		table, err = export.TableByName(res, name)
		if err != nil {
			middleware.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, table); err != nil {
		h.log.Error().Err(err).Str("table", name).Msg("Failed to render table")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to render table")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *AnalysesHandler) writeLookupError(w http.ResponseWriter, err error, jobID string) {
	if errors.Is(err, jobs.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to load analysis")
	middleware.WriteError(w, http.StatusInternalServerError, "Failed to load analysis")
}

func anomalyTypeParam(r *http.Request) (domain.AnomalyType, error) {
	v := r.URL.Query().Get("anomaly_type")
	if v == "" {
		return "", nil
	}
	return domain.ParseAnomalyType(v)
}

// ParseAnalysisPath splits "/api/analyses/{id}" and
// "/api/analyses/{id}/tables/{name}.csv". table is empty for the former.
func ParseAnalysisPath(path string) (jobID, table string, ok bool) {
	rest, found := strings.CutPrefix(path, "/api/analyses/")
	if !found || rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		return parts[0], "", true
	case len(parts) == 3 && parts[1] == "tables" && strings.HasSuffix(parts[2], ".csv") && parts[0] != "":
		name := strings.TrimSuffix(parts[2], ".csv")
		if name == "" {
			return "", "", false
		}
		return parts[0], name, true
	}
	return "", "", false
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: query.Get("user_id"),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	if jobsList == nil {
		jobsList = []*jobs.AnalysisJob{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
