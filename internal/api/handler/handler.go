package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/brandgen/internal/jobstatus"
	"github.com/cuongbtq/brandgen/internal/ledger"
	"github.com/cuongbtq/brandgen/internal/pricing"
	"github.com/cuongbtq/brandgen/internal/queue"
	"github.com/cuongbtq/brandgen/internal/records"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Queue        *queue.Queue
	Ledger       *ledger.Ledger
	Pricer       *pricing.Pricer
	Statuses     jobstatus.Cache
	Records      records.Store
	JobTimeout   time.Duration
	HealthChecks map[string]HealthCheck
	// AllowedOrigins restricts CORS; empty allows any origin
	AllowedOrigins []string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	queue      *queue.Queue
	ledger     *ledger.Ledger
	pricer     *pricing.Pricer
	statuses   jobstatus.Cache
	jobTimeout time.Duration
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		queue:      deps.Queue,
		ledger:     deps.Ledger,
		pricer:     deps.Pricer,
		statuses:   deps.Statuses,
		jobTimeout: deps.JobTimeout,
	}
}

// UserHandler serves balances and generation history
type UserHandler struct {
	logger  *slog.Logger
	ledger  *ledger.Ledger
	records records.Store
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(deps *Dependencies) *UserHandler {
	return &UserHandler{
		logger:  deps.Logger,
		ledger:  deps.Ledger,
		records: deps.Records,
	}
}
