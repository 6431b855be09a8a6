package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/imageproc"
	"github.com/cuongbtq/brandgen/internal/ledger"
	"github.com/cuongbtq/brandgen/internal/objectstore"
	"github.com/cuongbtq/brandgen/internal/retry"
	"github.com/cuongbtq/brandgen/internal/synthesis"
	"github.com/google/uuid"
)

// plan is the per-type part of a synthesis pipeline
type plan struct {
	// prepare builds the synthesis requests, one per unit
	prepare func(ctx context.Context) ([]synthesis.Request, error)
	// isolate keeps going when a unit fails
	isolate    bool
	process    func(data []byte) ([]byte, string, error)
	settlement func(st State) ledger.Settlement
	deliver    func(ctx context.Context, st State) error
	metadata   map[string]any
}

func (d *Dispatcher) execute(ctx context.Context, st State, p plan) (State, error) {
	return d.run(ctx, st,
		d.validate(),
		d.synthesize(p.prepare, p.isolate),
		d.process(p.process),
		d.storeOutputs(p.settlement, p.metadata),
		d.settle(p.settlement),
		step{stage: StageNotifying, run: func(ctx context.Context, st State) (State, error) {
			return st, p.deliver(ctx, st)
		}},
	)
}

// validate re-checks entitlement against the cost fixed at enqueue time
func (d *Dispatcher) validate() step {
	return step{stage: StageValidating, run: func(ctx context.Context, st State) (State, error) {
		env := st.Envelope

		ent, err := d.ledger.CheckEntitlement(ctx, env.UserID, env.Cost)
		if err != nil {
			return st, fmt.Errorf("failed to check entitlement: %w", err)
		}
		if env.UseFreeGeneration && !ent.FreeAvailable {
			return st, &entitlementError{entitlement: ent, err: domain.ErrFreeGenerationUsed}
		}
		if !ent.Allowed {
			return st, &entitlementError{entitlement: ent, err: domain.ErrInsufficientBalance}
		}

		st.Entitlement = ent
		return st, nil
	}}
}

// synthesize runs one provider call per request through the retry policy
func (d *Dispatcher) synthesize(prepare func(ctx context.Context) ([]synthesis.Request, error), isolate bool) step {
	return step{stage: StageSynthesizing, run: func(ctx context.Context, st State) (State, error) {
		requests, err := prepare(ctx)
		if err != nil {
			return st, err
		}

		var (
			outputs []Output
			failed  []int
			lastErr error
		)
		for i, req := range requests {
			unit := i + 1
			images, err := d.callProvider(ctx, req)
			if err != nil {
				if !isolate {
					return st, err
				}
				d.logger.Warn("Generation unit failed",
					slog.String("job_id", st.JobID),
					slog.Int("unit", unit),
					slog.String("error_kind", string(domain.KindOf(err))),
					slog.Any("error", err),
				)
				failed = append(failed, unit)
				lastErr = err
				continue
			}
			outputs = append(outputs, Output{
				Unit:   unit,
				Data:   images[0].Data,
				Format: formatOf(images[0].MIMEType),
			})
		}

		if len(outputs) == 0 {
			return st, fmt.Errorf("%w: %w", domain.ErrAllUnitsFailed, lastErr)
		}
		if len(failed) > 0 {
			d.logger.Warn("Partial batch",
				slog.String("job_id", st.JobID),
				slog.String("error_kind", string(domain.KindPartialBatch)),
				slog.Any("error", &domain.PartialBatchError{Failed: failed, Succeeded: len(outputs)}),
			)
		}

		st.Outputs = outputs
		st.Failed = failed
		return st, nil
	}}
}

func (d *Dispatcher) callProvider(ctx context.Context, req synthesis.Request) ([]synthesis.Image, error) {
	res := retry.Do(ctx, d.cfg.Retry, retry.DefaultClassifier, func(ctx context.Context) ([]synthesis.Image, error) {
		images, err := d.provider.Synthesize(ctx, req)
		if err == nil && len(images) == 0 {
			return nil, domain.ErrNoOutputs
		}
		return images, err
	})
	if !res.Success {
		return nil, res.Err
	}
	return res.Data, nil
}

// process post-processes every output; a failure keeps the raw image
func (d *Dispatcher) process(fn func([]byte) ([]byte, string, error)) step {
	return step{stage: StageProcessing, run: func(ctx context.Context, st State) (State, error) {
		if fn == nil {
			return st, nil
		}

		outputs := make([]Output, len(st.Outputs))
		for i, o := range st.Outputs {
			outputs[i] = o
			data, format, err := fn(o.Data)
			if err != nil {
				d.logger.Warn("Post-processing failed, keeping original",
					slog.String("job_id", st.JobID),
					slog.Int("unit", o.Unit),
					slog.Any("error", err),
				)
				continue
			}
			outputs[i].Data = data
			outputs[i].Format = format
		}

		st.Outputs = outputs
		return st, nil
	}}
}

// storeOutputs uploads each output and persists the generation record. A
// failed upload drops that unit.
func (d *Dispatcher) storeOutputs(settlement func(State) ledger.Settlement, metadata map[string]any) step {
	return step{stage: StageStoring, run: func(ctx context.Context, st State) (State, error) {
		env := st.Envelope

		var (
			outputs []Output
			failed  = append([]int(nil), st.Failed...)
			lastErr error
		)
		for _, o := range st.Outputs {
			url, err := d.store.Upload(ctx, o.Data, objectstore.UploadOptions{
				Key:         objectstore.Key(d.cfg.KeyPrefix, env.UserID, st.JobID, fmt.Sprintf("%s-%d.%s", st.JobType, o.Unit, extension(o.Format))),
				ContentType: imageproc.ContentType(o.Format),
			})
			if err != nil {
				d.logger.Warn("Failed to upload output",
					slog.String("job_id", st.JobID),
					slog.Int("unit", o.Unit),
					slog.Any("error", err),
				)
				failed = append(failed, o.Unit)
				lastErr = err
				continue
			}
			o.URL = url
			outputs = append(outputs, o)
		}

		if len(outputs) == 0 {
			return st, fmt.Errorf("failed to store outputs: %w", lastErr)
		}

		st.Outputs = outputs
		st.Failed = failed
		st.Charge = settlement(st).Cost

		meta := map[string]any{"prompt": env.Prompt, "provider": d.provider.Name()}
		for k, v := range metadata {
			meta[k] = v
		}
		if len(failed) > 0 {
			meta["failed_units"] = failed
		}

		d.saveRecord(ctx, st, st.URLs(), meta)
		return st, nil
	}}
}

// saveRecord persists a generation record; failures are logged only
func (d *Dispatcher) saveRecord(ctx context.Context, st State, urls []string, meta map[string]any) {
	rec := &domain.GenerationRecord{
		ID:        uuid.NewString(),
		JobID:     st.JobID,
		UserID:    st.Envelope.UserID,
		Type:      st.JobType,
		Cost:      st.Charge,
		URLs:      urls,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.records.Save(ctx, rec); err != nil {
		d.logger.Error("Failed to save generation record",
			slog.String("job_id", st.JobID),
			slog.Any("error", err),
		)
	}
}

// settle applies the ledger mutation. Delivery is never gated on it.
func (d *Dispatcher) settle(settlement func(State) ledger.Settlement) step {
	return step{stage: StageSettling, run: func(ctx context.Context, st State) (State, error) {
		s := settlement(st)

		outcome, err := d.ledger.Settle(ctx, st.Envelope.UserID, s)
		if err != nil {
			d.logger.Error("Ledger settlement failed, delivering anyway",
				slog.String("job_id", st.JobID),
				slog.String("marker", s.Marker),
				slog.Int("cost", s.Cost),
				slog.Any("error", err),
			)
		}

		st.Charge = s.Cost
		st.Outcome = outcome
		return st, nil
	}}
}

// flatSettlement bills the quoted cost once for the whole job
func flatSettlement(st State) ledger.Settlement {
	return ledger.Settlement{
		Marker:             st.marker(),
		UsedFreeGeneration: st.Envelope.UseFreeGeneration,
		Cost:               st.Envelope.Cost,
	}
}

func formatOf(mimeType string) string {
	if mimeType == "image/jpeg" {
		return imageproc.FormatJPEG
	}
	return imageproc.FormatPNG
}

func extension(format string) string {
	if format == imageproc.FormatJPEG {
		return "jpg"
	}
	return "png"
}
