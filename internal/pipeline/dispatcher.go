// Package pipeline routes claimed jobs to their generation pipeline. Each
// pipeline is a fixed sequence of stages over an immutable State:
// validating, synthesizing, processing, storing, settling, notifying, then
// done or failed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cuongbtq/brandgen/internal/derived"
	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/ledger"
	"github.com/cuongbtq/brandgen/internal/notify"
	"github.com/cuongbtq/brandgen/internal/objectstore"
	"github.com/cuongbtq/brandgen/internal/pricing"
	"github.com/cuongbtq/brandgen/internal/progress"
	"github.com/cuongbtq/brandgen/internal/queue"
	"github.com/cuongbtq/brandgen/internal/records"
	"github.com/cuongbtq/brandgen/internal/retry"
	"github.com/cuongbtq/brandgen/internal/synthesis"
	"github.com/cuongbtq/brandgen/shared/logger"
	"github.com/google/uuid"
)

// Ledger is the balance surface pipelines need
type Ledger interface {
	CheckEntitlement(ctx context.Context, userID string, cost int) (ledger.Entitlement, error)
	Settle(ctx context.Context, userID string, s ledger.Settlement) (ledger.Outcome, error)
}

// Progress starts and stops "still working" notifications
type Progress interface {
	Start(userID string, notify progress.NotifyFunc, interval time.Duration, maxTicks int)
	Stop(userID string) int
}

// Packager builds derived asset packages
type Packager interface {
	Build(ctx context.Context, in derived.Input) (*derived.Package, error)
}

// Config holds dispatcher configuration
type Config struct {
	ProgressInterval time.Duration
	ProgressMaxTicks int
	KeyPrefix        string
	Retry            retry.Options
	Pricing          pricing.Config
	// MaxEdge bounds logo, edit and HD meme outputs; standard memes use half of it.
	MaxEdge             int
	StickerEdge         int
	BackgroundTolerance uint8
}

// Deps are the collaborators every pipeline uses
type Deps struct {
	Ledger    Ledger
	Provider  synthesis.Provider
	Store     objectstore.Store
	Records   records.Store
	Messenger notify.Messenger
	Progress  Progress
	Packager  Packager
	Logger    *slog.Logger
}

// Dispatcher is the queue handler for every job type
type Dispatcher struct {
	ledger    Ledger
	provider  synthesis.Provider
	store     objectstore.Store
	records   records.Store
	messenger notify.Messenger
	progress  Progress
	packager  Packager
	logger    *slog.Logger
	cfg       Config
}

// New creates a Dispatcher
func New(deps Deps, cfg Config) (*Dispatcher, error) {
	var missing []string
	if deps.Ledger == nil {
		missing = append(missing, "ledger")
	}
	if deps.Provider == nil {
		missing = append(missing, "provider")
	}
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Records == nil {
		missing = append(missing, "records")
	}
	if deps.Messenger == nil {
		missing = append(missing, "messenger")
	}
	if deps.Progress == nil {
		missing = append(missing, "progress")
	}
	if deps.Packager == nil {
		missing = append(missing, "packager")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing dependencies: %s", strings.Join(missing, ", "))
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 15 * time.Second
	}
	if cfg.ProgressMaxTicks <= 0 {
		cfg.ProgressMaxTicks = 8
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "generations"
	}
	if cfg.MaxEdge <= 0 {
		cfg.MaxEdge = 2048
	}
	if cfg.StickerEdge <= 0 {
		cfg.StickerEdge = 512
	}
	if cfg.BackgroundTolerance == 0 {
		cfg.BackgroundTolerance = 24
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = deps.Logger
	}
	cfg.Pricing = pricing.New(cfg.Pricing).Config()

	return &Dispatcher{
		ledger:    deps.Ledger,
		provider:  deps.Provider,
		store:     deps.Store,
		records:   deps.Records,
		messenger: deps.Messenger,
		progress:  deps.Progress,
		packager:  deps.Packager,
		logger:    deps.Logger,
		cfg:       cfg,
	}, nil
}

// Register binds the dispatcher to every job type on q
func (d *Dispatcher) Register(q *queue.Queue) error {
	for _, jt := range domain.JobTypes {
		if err := q.RegisterHandler(jt, d); err != nil {
			return err
		}
	}
	return nil
}

// Handle runs job through its pipeline. Every failure, including a panic, is
// logged with a correlation reference and reported to the user; progress
// notifications are stopped exactly once on every path.
func (d *Dispatcher) Handle(ctx context.Context, job *domain.Job) (err error) {
	payload, err := domain.DecodePayload(job.JobType, job.Payload)
	if err != nil {
		// A payload of the wrong shape may still name its chat
		var env domain.Envelope
		_ = json.Unmarshal(job.Payload, &env)
		if env.UserID == "" {
			env.UserID = job.UserID
		}
		log := d.logger.With(
			slog.String("job_id", job.JobID),
			slog.String("job_type", string(job.JobType)),
			slog.String("user_id", env.UserID),
		)
		return d.fail(ctx, log, env, err)
	}

	env := payload.Common()
	log := d.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("job_type", string(job.JobType)),
		slog.String("user_id", env.UserID),
	)

	d.progress.Start(env.UserID, d.progressNotifier(ctx, env.ChatID, log), d.cfg.ProgressInterval, d.cfg.ProgressMaxTicks)
	defer d.progress.Stop(env.UserID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked", slog.String("stack", string(debug.Stack())))
			err = d.fail(ctx, log, env, fmt.Errorf("pipeline panicked: %v", r))
		}
	}()

	st := newState(job, env)

	var final State
	switch p := payload.(type) {
	case domain.LogoJob:
		final, err = d.runLogo(ctx, st, p)
	case domain.MemeJob:
		final, err = d.runMeme(ctx, st, p)
	case domain.StickerJob:
		final, err = d.runSticker(ctx, st, p)
	case domain.EditJob:
		final, err = d.runEdit(ctx, st, p)
	case domain.PackageJob:
		final, err = d.runPackage(ctx, st, p)
	default:
		err = fmt.Errorf("%w: %T", domain.ErrUnknownJobType, payload)
	}

	if err != nil {
		return d.fail(ctx, log, env, err)
	}

	log.Info("Pipeline finished",
		slog.String("stage", string(final.Stage)),
		slog.Int("outputs", len(final.Outputs)),
		slog.Int("failed_units", len(final.Failed)),
		slog.Int("charge", final.Charge),
	)
	return nil
}

// fail logs err under a fresh correlation reference, tells the user and
// returns the error tagged with that reference
func (d *Dispatcher) fail(ctx context.Context, log *slog.Logger, env domain.Envelope, err error) error {
	ref := correlationRef()

	log.Error("Pipeline failed",
		logger.Correlation(ref),
		slog.String("error_kind", string(domain.KindOf(err))),
		slog.Any("error", err),
	)

	var content string
	var opts notify.Options

	var entErr *entitlementError
	if errors.As(err, &entErr) {
		content = insufficientMessage(entErr.entitlement, ref)
		opts.Buttons = []notify.Button{{Label: "Top up balance", Action: "topup"}}
	} else {
		content = apologyMessage(ref)
		opts.Buttons = []notify.Button{{Label: "Try again", Action: "retry"}}
	}

	if env.ChatID == "" {
		log.Warn("No chat to send failure notice to", logger.Correlation(ref))
	} else if sendErr := d.messenger.SendMessage(context.WithoutCancel(ctx), env.ChatID, content, opts); sendErr != nil {
		log.Error("Failed to send failure notice",
			logger.Correlation(ref),
			slog.Any("error", sendErr),
		)
	}

	return &domain.CorrelatedError{Ref: ref, Err: err}
}

func (d *Dispatcher) progressNotifier(ctx context.Context, chatID string, log *slog.Logger) progress.NotifyFunc {
	return func(tick int) {
		if err := d.messenger.SendMessage(ctx, chatID, progressMessage(tick), notify.Options{Silent: true}); err != nil {
			log.Warn("Failed to send progress update", slog.Int("tick", tick), slog.Any("error", err))
		}
	}
}

// correlationRef is a short opaque id for log lookup
func correlationRef() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// entitlementError carries the execution-time entitlement that rejected a job
type entitlementError struct {
	entitlement ledger.Entitlement
	err         error
}

func (e *entitlementError) Error() string {
	return fmt.Sprintf("%v: cost %d, balance %d", e.err, e.entitlement.Cost, e.entitlement.Balance)
}

func (e *entitlementError) Unwrap() error {
	return e.err
}
