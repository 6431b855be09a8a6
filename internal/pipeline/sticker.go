package pipeline

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/imageproc"
	"github.com/cuongbtq/brandgen/internal/ledger"
	"github.com/cuongbtq/brandgen/internal/notify"
	"github.com/cuongbtq/brandgen/internal/pricing"
	"github.com/cuongbtq/brandgen/internal/synthesis"
)

// runSticker generates Count independent single-output units. Each unit is
// billed on its own; failed units are skipped with a per-item apology and
// successes are delivered in batches.
func (d *Dispatcher) runSticker(ctx context.Context, st State, job domain.StickerJob) (State, error) {
	units := job.Count
	if units <= 0 {
		units = 1
	}
	unitCost := job.UnitCost
	if unitCost <= 0 {
		unitCost = d.cfg.Pricing.StickerUnitCost
	}

	return d.execute(ctx, st, plan{
		prepare: func(ctx context.Context) ([]synthesis.Request, error) {
			requests := make([]synthesis.Request, 0, units)
			for i := 0; i < units; i++ {
				var emotion string
				if len(job.Emotions) > 0 {
					emotion = job.Emotions[i%len(job.Emotions)]
				}
				prompt, err := synthesis.RenderPrompt("sticker", synthesis.StickerPromptData{
					Prompt:  job.Prompt,
					Emotion: emotion,
				})
				if err != nil {
					return nil, err
				}
				requests = append(requests, synthesis.Request{Prompt: prompt})
			}
			return requests, nil
		},
		isolate: true,
		process: func(data []byte) ([]byte, string, error) {
			stripped, err := imageproc.RemoveBackground(data, d.cfg.BackgroundTolerance)
			if err != nil {
				return nil, "", err
			}
			out, err := imageproc.Resize(stripped, d.cfg.StickerEdge, d.cfg.StickerEdge)
			return out, imageproc.FormatPNG, err
		},
		settlement: func(st State) ledger.Settlement {
			succeeded := len(st.Outputs)
			usedFree := st.Envelope.UseFreeGeneration && succeeded > 0
			return ledger.Settlement{
				Marker:             st.marker(),
				UsedFreeGeneration: usedFree,
				Cost:               pricing.StickerCharge(unitCost, succeeded, usedFree),
			}
		},
		metadata: map[string]any{"units": units, "unit_cost": unitCost},
		deliver: func(ctx context.Context, st State) error {
			return d.deliverStickers(ctx, st, units)
		},
	})
}

func (d *Dispatcher) deliverStickers(ctx context.Context, st State, units int) error {
	chatID := st.Envelope.ChatID
	batch := d.cfg.Pricing.StickerBatchSize

	for start := 0; start < len(st.Outputs); start += batch {
		end := min(start+batch, len(st.Outputs))
		chunk := st.Outputs[start:end]

		urls := make([]string, 0, len(chunk))
		for _, o := range chunk {
			urls = append(urls, o.URL)
		}
		if err := d.messenger.SendMessage(ctx, chatID, stickerBatchMessage(start+1, end, len(st.Outputs)), notify.Options{ImageURLs: urls}); err != nil {
			return err
		}
	}

	for _, unit := range st.Failed {
		if err := d.messenger.SendMessage(ctx, chatID, stickerUnitApology(unit), notify.Options{}); err != nil {
			d.logger.Warn("Failed to send sticker apology",
				slog.String("job_id", st.JobID),
				slog.Int("unit", unit),
				slog.Any("error", err),
			)
		}
	}

	return d.messenger.SendMessage(ctx, chatID, stickerSummary(len(st.Outputs), units, st.Charge), notify.Options{
		Buttons: []notify.Button{{Label: "More stickers", Action: "sticker"}},
	})
}
