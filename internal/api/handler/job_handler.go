package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/brandgen/internal/api/dto"
	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/jobstatus"
	"github.com/cuongbtq/brandgen/internal/ledger"
	"github.com/cuongbtq/brandgen/internal/pricing"
	"github.com/cuongbtq/brandgen/internal/queue"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// quote prices a request for userID using the user's current free entitlement
func (h *JobHandler) quote(c *gin.Context, userID string, req pricing.Request) (pricing.Quote, ledger.Entitlement, bool) {
	user, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load balance", slog.String("user_id", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
		return pricing.Quote{}, ledger.Entitlement{}, false
	}

	q, err := h.pricer.Quote(req, !user.FreeUsed)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, pricing.ErrInvalidRequest) && !errors.Is(err, domain.ErrUnknownJobType) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return pricing.Quote{}, ledger.Entitlement{}, false
	}

	ent, err := h.ledger.CheckEntitlement(c.Request.Context(), userID, q.Cost)
	if err != nil {
		h.logger.Error("Failed to check entitlement", slog.String("user_id", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check entitlement"})
		return pricing.Quote{}, ledger.Entitlement{}, false
	}

	return q, ent, true
}

func quoteResponse(q pricing.Quote, ent ledger.Entitlement) dto.QuoteResponse {
	return dto.QuoteResponse{
		JobType:           string(q.JobType),
		Units:             q.Units,
		UnitCost:          q.UnitCost,
		ListCost:          q.ListCost,
		Cost:              q.Cost,
		UseFreeGeneration: q.UseFreeGeneration,
		Balance:           ent.Balance,
		Allowed:           ent.Allowed,
	}
}

// QuoteJob handles POST /api/v1/quotes
// Prices a job and reports whether the user can afford it, without enqueuing
func (h *JobHandler) QuoteJob(c *gin.Context) {
	var req dto.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	q, ent, ok := h.quote(c, req.UserID, pricing.Request{
		JobType: domain.JobType(req.JobType),
		Count:   req.Count,
		Quality: req.Quality,
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, quoteResponse(q, ent))
}

// CreateJob handles POST /api/v1/jobs
// Prices the request, checks entitlement and enqueues the job. A user who
// cannot pay gets 402 and no job is created.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !domain.JobType(req.JobType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unknown job_type %q", req.JobType),
		})
		return
	}

	q, ent, ok := h.quote(c, req.UserID, pricing.Request{
		JobType: domain.JobType(req.JobType),
		Count:   req.Count,
		Quality: req.Quality,
	})
	if !ok {
		return
	}

	if !ent.Allowed {
		h.logger.Info("Insufficient balance, job not created",
			slog.String("user_id", req.UserID),
			slog.String("job_type", req.JobType),
			slog.Int("cost", q.Cost),
			slog.Int("balance", ent.Balance),
		)
		c.JSON(http.StatusPaymentRequired, dto.InsufficientBalanceResponse{
			Error:   ent.Reason,
			Message: fmt.Sprintf("This request costs %d credits and your balance is %d.", q.Cost, ent.Balance),
			Cost:    q.Cost,
			Balance: ent.Balance,
		})
		return
	}

	payload, err := buildPayload(&req, q)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := h.jobTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	job, err := h.queue.Enqueue(c.Request.Context(), payload, queue.EnqueueOptions{
		Timeout:        timeout,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Error("Failed to enqueue job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		Job:   toJobDTO(job),
		Quote: quoteResponse(q, ent),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Serves the live job row, or the cached status once the job has finished
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.queue.Store().Get(c.Request.Context(), jobID)
	if err == nil {
		c.JSON(http.StatusOK, toJobDTO(job))
		return
	}
	if !errors.Is(err, domain.ErrJobNotFound) {
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	if h.statuses != nil {
		status, err := h.statuses.Get(c.Request.Context(), jobID)
		if err == nil {
			c.JSON(http.StatusOK, dto.JobStatusDTO{
				JobID:          status.JobID,
				JobType:        status.JobType,
				UserID:         status.UserID,
				Status:         status.State,
				Error:          status.Error,
				CorrelationRef: status.CorrelationRef,
				UpdatedAt:      status.UpdatedAt,
			})
			return
		}
		if !errors.Is(err, jobstatus.ErrNotFound) {
			h.logger.Warn("Failed to read job status cache", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}

	c.JSON(http.StatusNotFound, gin.H{
		"error": "job not found",
	})
}

// ListJobs handles GET /api/v1/jobs
// Lists live jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := queue.ParseCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.queue.Store().List(c.Request.Context(), queue.Filter{
		UserID:   req.UserID,
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = queue.Cursor{EnqueuedAt: last.EnqueuedAt, JobID: last.JobID}.Encode()
	}

	c.JSON(http.StatusOK, resp)
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:          job.JobID,
		UserID:         job.UserID,
		JobType:        string(job.JobType),
		Payload:        job.Payload,
		Status:         job.Status,
		TimeoutSeconds: job.TimeoutSeconds,
		EnqueuedAt:     job.EnqueuedAt.Format(time.RFC3339),
	}
	if job.IdempotencyKey != nil {
		out.IdempotencyKey = *job.IdempotencyKey
	}
	if job.WorkerID != nil {
		out.WorkerID = *job.WorkerID
	}
	if job.ClaimedAt != nil {
		out.ClaimedAt = job.ClaimedAt.Format(time.RFC3339)
	}
	return out
}
