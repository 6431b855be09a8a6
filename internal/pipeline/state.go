package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/brandgen/internal/derived"
	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/ledger"
)

// Stage is a pipeline state
type Stage string

const (
	StageValidating   Stage = "validating"
	StageSynthesizing Stage = "synthesizing"
	StageProcessing   Stage = "processing"
	StageStoring      Stage = "storing"
	StageSettling     Stage = "settling"
	StageNotifying    Stage = "notifying"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Output is one generated unit. Unit is 1-based.
type Output struct {
	Unit   int
	Data   []byte
	Format string
	URL    string
}

// State is passed by value between stages; a stage returns a new State and
// never mutates the slices it received.
type State struct {
	Stage       Stage
	JobID       string
	JobType     domain.JobType
	Envelope    domain.Envelope
	Entitlement ledger.Entitlement
	Outputs     []Output
	Failed      []int
	Charge      int
	Outcome     ledger.Outcome
	Package     *derived.Package
}

func newState(job *domain.Job, env domain.Envelope) State {
	return State{
		JobID:    job.JobID,
		JobType:  job.JobType,
		Envelope: env,
	}
}

func (s State) enter(stage Stage) State {
	s.Stage = stage
	return s
}

// URLs returns the stored output URLs in unit order
func (s State) URLs() []string {
	urls := make([]string, 0, len(s.Outputs))
	for _, o := range s.Outputs {
		if o.URL != "" {
			urls = append(urls, o.URL)
		}
	}
	return urls
}

// marker is the settlement marker for a one-off job outcome
func (s State) marker() string {
	return "job:" + s.JobID
}

type step struct {
	stage Stage
	run   func(ctx context.Context, st State) (State, error)
}

// run executes steps in order, stopping at the first error
func (d *Dispatcher) run(ctx context.Context, st State, steps ...step) (State, error) {
	for _, s := range steps {
		st = st.enter(s.stage)
		d.logger.Debug("Pipeline stage",
			slog.String("job_id", st.JobID),
			slog.String("stage", string(s.stage)),
		)

		next, err := s.run(ctx, st)
		if err != nil {
			return st.enter(StageFailed), fmt.Errorf("%s: %w", s.stage, err)
		}
		st = next
	}
	return st.enter(StageDone), nil
}
