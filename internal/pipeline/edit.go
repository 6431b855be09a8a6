package pipeline

import (
	"context"
	"fmt"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/imageproc"
	"github.com/cuongbtq/brandgen/internal/notify"
	"github.com/cuongbtq/brandgen/internal/synthesis"
)

// runEdit applies an instruction to an existing image; the source image is
// required
func (d *Dispatcher) runEdit(ctx context.Context, st State, job domain.EditJob) (State, error) {
	instruction := job.Instruction
	if instruction == "" {
		instruction = job.Prompt
	}

	return d.execute(ctx, st, plan{
		prepare: func(ctx context.Context) ([]synthesis.Request, error) {
			if job.SourceImageURL == "" || instruction == "" {
				return nil, fmt.Errorf("%w: edit needs a source image and an instruction", domain.ErrInvalidPayload)
			}

			source, err := d.store.Download(ctx, job.SourceImageURL)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch source image: %w", err)
			}

			prompt, err := synthesis.RenderPrompt("edit", synthesis.EditPromptData{Instruction: instruction})
			if err != nil {
				return nil, err
			}
			return []synthesis.Request{{
				Prompt:     prompt,
				References: []synthesis.Image{{Data: source, MIMEType: mimeOf(source)}},
			}}, nil
		},
		process: func(data []byte) ([]byte, string, error) {
			out, err := imageproc.Fit(data, d.cfg.MaxEdge, d.cfg.MaxEdge, imageproc.FormatPNG)
			return out, imageproc.FormatPNG, err
		},
		settlement: flatSettlement,
		metadata:   map[string]any{"source_image_url": job.SourceImageURL, "instruction": instruction},
		deliver: func(ctx context.Context, st State) error {
			return d.messenger.SendMessage(ctx, st.Envelope.ChatID, editMessage(st.Charge), notify.Options{
				ImageURLs: st.URLs(),
				Buttons:   []notify.Button{{Label: "Edit again", Action: "edit"}},
			})
		},
	})
}
