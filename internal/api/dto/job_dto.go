package dto

import (
	"encoding/json"
	"time"
)

// CreateJobRequest is sent by the chat front end when the user confirms a
// generation. Type-specific fields are ignored by other job types.
type CreateJobRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id" binding:"required"`
	ChatID         string          `json:"chat_id" binding:"required"`
	JobType        string          `json:"job_type" binding:"required"`
	Prompt         string          `json:"prompt"`
	Count          int             `json:"count"`
	Quality        string          `json:"quality"`
	Session        json.RawMessage `json:"session,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds"`

	BrandName string   `json:"brand_name"`
	Style     string   `json:"style"`
	Colors    []string `json:"colors"`

	ReferenceImageURL string `json:"reference_image_url"`
	TopText           string `json:"top_text"`
	BottomText        string `json:"bottom_text"`

	Emotions []string `json:"emotions"`

	SourceImageURL string `json:"source_image_url"`
	Instruction    string `json:"instruction"`

	BaseImageURL string `json:"base_image_url"`
	DisplayName  string `json:"display_name"`
}

// QuoteRequest prices a job without enqueuing it
type QuoteRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	JobType string `json:"job_type" binding:"required"`
	Count   int    `json:"count"`
	Quality string `json:"quality"`
}

type QuoteResponse struct {
	JobType           string `json:"job_type"`
	Units             int    `json:"units"`
	UnitCost          int    `json:"unit_cost"`
	ListCost          int    `json:"list_cost"`
	Cost              int    `json:"cost"`
	UseFreeGeneration bool   `json:"use_free_generation"`
	Balance           int    `json:"balance"`
	Allowed           bool   `json:"allowed"`
}

// InsufficientBalanceResponse is returned with 402 when the entitlement check fails
type InsufficientBalanceResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Cost    int    `json:"cost"`
	Balance int    `json:"balance"`
}

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string          `json:"job_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	UserID         string          `json:"user_id"`
	JobType        string          `json:"job_type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         string          `json:"status"`
	WorkerID       string          `json:"worker_id,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	EnqueuedAt     string          `json:"enqueued_at"`
	ClaimedAt      string          `json:"claimed_at,omitempty"`
}

// CreateJobResponse acknowledges an enqueued job
type CreateJobResponse struct {
	Job   JobDTO        `json:"job"`
	Quote QuoteResponse `json:"quote"`
}

// JobStatusDTO is served for jobs that already finished and left the queue
type JobStatusDTO struct {
	JobID          string    `json:"job_id"`
	JobType        string    `json:"job_type"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	CorrelationRef string    `json:"correlation_ref,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type BalanceDTO struct {
	UserID                  string `json:"user_id"`
	Balance                 int    `json:"balance"`
	FreeGenerationAvailable bool   `json:"free_generation_available"`
	ReferredBy              string `json:"referred_by,omitempty"`
	Converted               bool   `json:"converted"`
}

type GenerationDTO struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Type      string         `json:"type"`
	Cost      int            `json:"cost"`
	URLs      []string       `json:"urls"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type ListGenerationsResponse struct {
	Generations []GenerationDTO `json:"generations"`
}
