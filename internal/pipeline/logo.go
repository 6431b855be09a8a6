package pipeline

import (
	"context"
	"fmt"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/imageproc"
	"github.com/cuongbtq/brandgen/internal/notify"
	"github.com/cuongbtq/brandgen/internal/synthesis"
)

// runLogo generates independent concepts; one failed concept does not abort
// the others and the job settles only when at least one concept survives
func (d *Dispatcher) runLogo(ctx context.Context, st State, job domain.LogoJob) (State, error) {
	concepts := job.Count
	if concepts <= 0 {
		concepts = d.cfg.Pricing.LogoConcepts
	}
	if concepts > d.cfg.Pricing.LogoMaxConcepts {
		return st, fmt.Errorf("%w: %d logo concepts exceeds the limit of %d", domain.ErrInvalidPayload, concepts, d.cfg.Pricing.LogoMaxConcepts)
	}

	return d.execute(ctx, st, plan{
		prepare: func(ctx context.Context) ([]synthesis.Request, error) {
			requests := make([]synthesis.Request, 0, concepts)
			for i := 0; i < concepts; i++ {
				prompt, err := synthesis.RenderPrompt("logo", synthesis.LogoPromptData{
					BrandName: job.BrandName,
					Style:     job.Style,
					Colors:    job.Colors,
					Prompt:    job.Prompt,
					Concept:   i + 1,
					Concepts:  concepts,
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
			out, err := imageproc.Fit(data, d.cfg.MaxEdge, d.cfg.MaxEdge, imageproc.FormatPNG)
			return out, imageproc.FormatPNG, err
		},
		settlement: flatSettlement,
		metadata:   map[string]any{"brand_name": job.BrandName, "concepts": concepts},
		deliver: func(ctx context.Context, st State) error {
			return d.messenger.SendMessage(ctx, st.Envelope.ChatID, logoMessage(job.BrandName, len(st.Outputs), st.Failed), notify.Options{
				ImageURLs: st.URLs(),
				Buttons: []notify.Button{
					{Label: "Build brand kit", Action: "package"},
					{Label: "More concepts", Action: "logo"},
				},
			})
		},
	})
}
